// echonetctl inspects and maintains an echonet database offline:
// settings, targets, backups and schema migrations.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/echonet/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "state":
		err = runState(args)
	case "registry":
		err = runRegistry(args)
	case "backup":
		err = runBackup(args)
	case "migrate":
		err = runMigrate(args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: echonetctl <command> [flags]

commands:
  state     show current settings and recent changes
  registry  show registered targets and their phrases
  backup    copy the database to a destination file
  migrate   show or apply pending schema migrations

common flags:
  -db path  database file (default echonet.db)`)
}

func dbFlag(fs *flag.FlagSet) *string {
	return fs.String("db", "echonet.db", "database file")
}

func openStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", path, err)
	}
	log := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
	return store.OpenNoMigrate(path, log)
}

func runState(args []string) error {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	db := dbFlag(fs)
	history := fs.Int("history", 10, "number of recent changes to show")
	fs.Parse(args)

	s, err := openStore(*db)
	if err != nil {
		return err
	}
	defer s.Close()

	settings, err := s.AllSettings()
	if err != nil {
		return err
	}
	fmt.Println("settings:")
	for _, st := range settings {
		fmt.Printf("  %-24s = %-12s (updated %s)\n", st.Name, st.Value, st.UpdatedAt)
	}

	if *history > 0 {
		changes, err := s.History("", *history)
		if err != nil {
			return err
		}
		fmt.Printf("\nlast %d changes:\n", len(changes))
		for _, c := range changes {
			old := "(unset)"
			if c.OldValue != nil {
				old = *c.OldValue
			}
			fmt.Printf("  #%-5d %s  %s: %s -> %s  [%s] %s\n",
				c.ID, c.ChangedAt, c.Name, old, c.NewValue, c.Source, c.Reason)
		}
	}
	return nil
}

func runRegistry(args []string) error {
	fs := flag.NewFlagSet("registry", flag.ExitOnError)
	db := dbFlag(fs)
	fs.Parse(args)

	s, err := openStore(*db)
	if err != nil {
		return err
	}
	defer s.Close()

	targets, err := s.ListTargets()
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Println("no targets registered")
		return nil
	}
	for _, t := range targets {
		fmt.Printf("%s\n  base_url: %s\n  phrases:  %s\n", t.Name, t.BaseURL, strings.Join(t.Phrases, ", "))
	}
	return nil
}

func runBackup(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	db := dbFlag(fs)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: echonetctl backup [-db path] <destination>")
	}
	dest := fs.Arg(0)
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("destination %s already exists", dest)
	}

	s, err := openStore(*db)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Backup(dest); err != nil {
		return err
	}
	fmt.Printf("backup written to %s\n", dest)
	return nil
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	db := dbFlag(fs)
	apply := fs.Bool("apply", false, "apply pending migrations instead of just reporting")
	fs.Parse(args)

	s, err := openStore(*db)
	if err != nil {
		return err
	}
	defer s.Close()

	current, err := s.SchemaVersion()
	if err != nil {
		return err
	}
	fmt.Printf("schema version: %d (latest %d)\n", current, store.LatestVersion())

	if current >= store.LatestVersion() {
		fmt.Println("schema is up to date")
		return nil
	}
	if !*apply {
		fmt.Printf("%d migration(s) pending; run with -apply to apply\n", store.LatestVersion()-current)
		return nil
	}

	if err := s.Migrate(); err != nil {
		return err
	}
	fmt.Printf("migrated to version %d\n", store.LatestVersion())
	return nil
}
