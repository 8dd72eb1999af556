// Package discovery advertises the HTTP endpoint over mDNS so peers on
// the LAN can find the router without static configuration.
package discovery

import (
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

const serviceType = "_echonet._tcp"

type Options struct {
	InstanceName string
	Port         int
	Zone         string
	Subzone      string
	Version      string
}

// Service is a registered mDNS advertisement.
type Service struct {
	server *zeroconf.Server
	log    zerolog.Logger
}

// Register announces the service. TXT records carry the zone labels so
// clients can filter instances by location.
func Register(opts Options, log zerolog.Logger) (*Service, error) {
	if opts.Port <= 0 {
		return nil, fmt.Errorf("discovery needs a concrete port, got %d", opts.Port)
	}

	txt := []string{
		"service=echonet",
		"version=" + opts.Version,
	}
	if opts.Zone != "" {
		txt = append(txt, "zone="+opts.Zone)
	}
	if opts.Subzone != "" {
		txt = append(txt, "subzone="+opts.Subzone)
	}

	server, err := zeroconf.Register(opts.InstanceName, serviceType, "local.", opts.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}

	log.Info().
		Str("instance", opts.InstanceName).
		Str("type", serviceType).
		Int("port", opts.Port).
		Msg("mdns service registered")
	return &Service{server: server, log: log}, nil
}

func (s *Service) Shutdown() {
	s.log.Info().Msg("mdns service shutting down")
	s.server.Shutdown()
}
