// Package kokoro is a client for the Kokoro speech synthesis service.
package kokoro

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoncodec "github.com/drblury/narrator/internal/runtime/jsoncodec"
)

const (
	phonemizePath  = "/api/phonemize"
	synthesizePath = "/api/synthesize"

	// HeaderSpeechDuration carries the length of synthesized audio in seconds.
	HeaderSpeechDuration = "narrator-speech-duration"

	defaultTimeout = 5 * time.Minute
	maxErrorBody   = 4 << 10
)

// ErrUnexpectedStatus is wrapped by errors for non-2xx responses.
var ErrUnexpectedStatus = errors.New("kokoro: unexpected status")

// Speech is synthesized audio.
type Speech struct {
	Content     []byte
	ContentType string
	Duration    float64
}

// Client talks to one Kokoro instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("kokoro: base URL is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type phonemizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type phonemizeResponse struct {
	Phonemes string `json:"phonemes"`
}

type synthesizeRequest struct {
	Phonemes string  `json:"phonemes"`
	Voice    string  `json:"voice,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
}

// Phonemize converts text into newline separated phoneme chunks.
func (c *Client) Phonemize(ctx context.Context, text, voice string) (string, error) {
	resp, err := c.post(ctx, phonemizePath, phonemizeRequest{Text: text, Voice: voice})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("kokoro: read phonemize response: %w", err)
	}
	var out phonemizeResponse
	if err := jsoncodec.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("kokoro: decode phonemize response: %w", err)
	}
	return out.Phonemes, nil
}

// Synthesize renders phonemes as audio.
func (c *Client) Synthesize(ctx context.Context, phonemes, voice string, speed float64) (Speech, error) {
	resp, err := c.post(ctx, synthesizePath, synthesizeRequest{Phonemes: phonemes, Voice: voice, Speed: speed})
	if err != nil {
		return Speech{}, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return Speech{}, fmt.Errorf("kokoro: read audio: %w", err)
	}

	speech := Speech{
		Content:     content,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if raw := resp.Header.Get(HeaderSpeechDuration); raw != "" {
		d, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Speech{}, fmt.Errorf("kokoro: invalid %s header %q: %w", HeaderSpeechDuration, raw, err)
		}
		speech.Duration = d
	}
	return speech, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := jsoncodec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("kokoro: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("kokoro: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kokoro: POST %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: POST %s returned %d: %s", ErrUnexpectedStatus, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp, nil
}
