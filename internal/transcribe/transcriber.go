// Package transcribe defines the transcription contract the worker
// consumes and the Whisper HTTP implementation behind it.
package transcribe

import "context"

// Result is the outcome of transcribing one PCM buffer.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Duration   float64 `json:"duration_s"`
}

// Transcriber turns PCM audio into text. Implementations must be safe
// to call concurrently with capture but need not be internally parallel.
// Empty text is a legal result and is handled by the caller.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32, sampleRate int, language string) (Result, error)
}
