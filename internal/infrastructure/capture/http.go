// ABOUTME: Capture source pulling a raw float32 sample feed over HTTP
// ABOUTME: Handles upstream connection with timeouts and request headers
package capture

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/harper/audiorelay/internal/domain"
	"github.com/harper/audiorelay/internal/infrastructure/clock"
)

type HTTPConfig struct {
	URL            string
	ConnectTimeout time.Duration
	Headers        map[string]string

	SampleRate    int
	Channels      int
	FrameDuration time.Duration
	// Pace is for upstreams that send faster than real time, such as a
	// static file server.
	Pace  bool
	Clock clock.Clock
}

type HTTPSource struct {
	cfg    HTTPConfig
	client *http.Client
}

var _ domain.CaptureSource = (*HTTPSource)(nil)

func NewHTTP(cfg HTTPConfig) *HTTPSource {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		DisableCompression:    true,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   0, // No total timeout for streaming
	}

	return &HTTPSource{
		cfg:    cfg,
		client: client,
	}
}

// Run connects once and streams until the body ends or ctx is cancelled.
func (h *HTTPSource) Run(ctx context.Context, callback func([]float32)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "audio/x-f32le, application/octet-stream")
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	r := &Reader{
		R:             resp.Body,
		SampleRate:    h.cfg.SampleRate,
		Channels:      h.cfg.Channels,
		FrameDuration: h.cfg.FrameDuration,
		Pace:          h.cfg.Pace,
		Clock:         h.cfg.Clock,
	}
	err = r.Run(ctx, callback)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
