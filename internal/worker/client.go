// Package worker is the HTTP client for the generation worker contract:
// status, non-streaming generate and streaming generate.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/interfaces"
	"github.com/modelrelay/modelrelay/internal/translator"
	"github.com/modelrelay/modelrelay/internal/util"
	log "github.com/sirupsen/logrus"
)

const (
	statusPath         = "/worker_get_status"
	generatePath       = "/worker_generate"
	generateStreamPath = "/worker_generate_stream"

	maxResponseBytes = 32 << 20
)

// ErrTimeout marks a worker call that exceeded its time budget.
var ErrTimeout = translator.ErrWorkerTimeout

// Client talks to workers over HTTP. It is safe for concurrent use.
type Client struct {
	httpClient    *http.Client
	timeout       time.Duration
	streamTimeout time.Duration
}

// NewClient builds a client from the worker and proxy settings of cfg.
func NewClient(cfg *config.Config) *Client {
	if cfg == nil {
		cfg = config.Default()
	}
	httpClient := util.SetProxy(&cfg.SDKConfig, &http.Client{})
	return &Client{
		httpClient:    httpClient,
		timeout:       cfg.WorkerTimeout(),
		streamTimeout: cfg.WorkerStreamTimeout(),
	}
}

// Status calls the worker's status operation. The caller bounds it through ctx.
func (c *Client) Status(ctx context.Context, endpoint string) (*interfaces.WorkerStatus, error) {
	body, err := c.post(ctx, endpoint, statusPath, nil)
	if err != nil {
		return nil, err
	}
	var status interfaces.WorkerStatus
	if errDecode := json.Unmarshal(body, &status); errDecode != nil {
		return nil, fmt.Errorf("worker: decode status: %w", errDecode)
	}
	return &status, nil
}

// Generate runs a non-streaming generation and returns the worker's raw JSON body.
func (c *Client) Generate(ctx context.Context, endpoint string, params interfaces.GenerateParams) ([]byte, error) {
	params.Stream = false
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	body, err := c.post(ctx, endpoint, generatePath, params)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s: %v", ErrTimeout, c.timeout, err)
	}
	return body, err
}

// GenerateStream opens a streaming generation. Opening is bounded by the stream
// timeout, and the returned Stream enforces the same budget between frames.
func (c *Client) GenerateStream(ctx context.Context, endpoint string, params interfaces.GenerateParams) (*Stream, error) {
	params.Stream = true
	payload, errMarshal := json.Marshal(params)
	if errMarshal != nil {
		return nil, fmt.Errorf("worker: encode request: %w", errMarshal)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, errReq := http.NewRequestWithContext(streamCtx, http.MethodPost, joinURL(endpoint, generateStreamPath), bytes.NewReader(payload))
	if errReq != nil {
		cancel()
		return nil, fmt.Errorf("worker: build request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")

	openTimer := time.AfterFunc(c.streamTimeout, cancel)
	resp, errDo := c.httpClient.Do(req)
	timedOut := !openTimer.Stop()
	if errDo != nil {
		cancel()
		if timedOut {
			return nil, fmt.Errorf("%w opening stream after %s", ErrTimeout, c.streamTimeout)
		}
		return nil, fmt.Errorf("worker: open stream: %w", errDo)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("worker: stream status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	log.WithFields(log.Fields{"worker": endpoint, "model": params.Model}).Debug("worker stream opened")
	return newStream(resp.Body, cancel, c.streamTimeout), nil
}

// OpenStream adapts GenerateStream to translator.Opener.
func (c *Client) OpenStream(ctx context.Context, endpoint string, params interfaces.GenerateParams) (translator.FrameSource, error) {
	stream, err := c.GenerateStream(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (c *Client) post(ctx context.Context, endpoint, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, errMarshal := json.Marshal(payload)
		if errMarshal != nil {
			return nil, fmt.Errorf("worker: encode request: %w", errMarshal)
		}
		reader = bytes.NewReader(data)
	}
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(endpoint, path), reader)
	if errReq != nil {
		return nil, fmt.Errorf("worker: build request: %w", errReq)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, errDo := c.httpClient.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("worker: %s: %w", path, errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("worker: close response body: %v", errClose)
		}
	}()
	data, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if errRead != nil {
		return nil, fmt.Errorf("worker: %s: read body: %w", path, errRead)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker: %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func joinURL(endpoint, path string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/") + path
}
