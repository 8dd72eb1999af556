package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/snarg/echonet/internal/audio"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions
// endpoint. Servers that ignore unknown form fields (e.g. speaches)
// work unchanged.
type WhisperClient struct {
	url     string
	model   string
	timeout time.Duration
	client  *http.Client
}

// WhisperResponse is the parsed verbose_json response.
type WhisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []WhisperSegment `json:"segments"`
}

// WhisperSegment carries per-segment decoding stats.
type WhisperSegment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	AvgLogprob float64 `json:"avg_logprob"`
}

// NewWhisperClient creates a Whisper HTTP client.
func NewWhisperClient(url, model string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:     url,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Transcribe uploads the PCM buffer as a WAV file and maps the response
// to the Transcriber contract. Confidence is the mean over segments of
// clamp(1 + avg_logprob) into [0, 1].
func (wc *WhisperClient) Transcribe(ctx context.Context, pcm []float32, sampleRate int, language string) (Result, error) {
	resp, err := wc.request(ctx, pcm, sampleRate, language, false)
	if err != nil {
		return Result{}, err
	}

	confidence := 0.0
	if n := len(resp.Segments); n > 0 {
		for _, seg := range resp.Segments {
			c := 1.0 + seg.AvgLogprob
			if c < 0 {
				c = 0
			}
			if c > 1 {
				c = 1
			}
			confidence += c
		}
		confidence /= float64(n)
	}

	duration := resp.Duration
	if duration == 0 && sampleRate > 0 {
		duration = float64(len(pcm)) / float64(sampleRate)
	}

	return Result{
		Text:       strings.TrimSpace(resp.Text),
		Confidence: confidence,
		Duration:   duration,
	}, nil
}

// DetectSpeech implements vad.SpeechDetector: it runs the chunk through
// the endpoint with the server-side VAD filter on and reports whether
// any speech segment survived. The text is discarded.
func (wc *WhisperClient) DetectSpeech(ctx context.Context, pcm []float32, sampleRate int) (bool, error) {
	resp, err := wc.request(ctx, pcm, sampleRate, "", true)
	if err != nil {
		return false, err
	}
	if len(resp.Segments) > 0 {
		return true, nil
	}
	return strings.TrimSpace(resp.Text) != "", nil
}

func (wc *WhisperClient) request(ctx context.Context, pcm []float32, sampleRate int, language string, vadFilter bool) (*WhisperResponse, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "segment.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio.EncodeWAV(pcm, sampleRate)); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}

	if wc.model != "" {
		w.WriteField("model", wc.model)
	}
	if language != "" && language != "auto" {
		w.WriteField("language", language)
	}
	w.WriteField("response_format", "verbose_json")
	if vadFilter {
		w.WriteField("vad_filter", "true")
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := wc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result WhisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}
