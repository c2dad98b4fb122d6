package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/util"
	"github.com/tidwall/gjson"
)

// ControllerClient resolves through a controller's HTTP surface.
type ControllerClient struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewControllerClient builds a client for the controller configured in cfg.
func NewControllerClient(cfg *config.Config) *ControllerClient {
	return &ControllerClient{
		baseURL:    strings.TrimRight(cfg.ControllerURL(), "/"),
		timeout:    cfg.ControllerQueryTimeout(),
		httpClient: util.SetProxy(&cfg.SDKConfig, &http.Client{}),
	}
}

// GetWorkerAddress implements Resolver.
func (c *ControllerClient) GetWorkerAddress(ctx context.Context, model string) (string, error) {
	body, err := c.post(ctx, "/get_worker_address", map[string]string{"model": model})
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "address").String(), nil
}

// ListModels implements Resolver.
func (c *ControllerClient) ListModels(ctx context.Context) ([]string, error) {
	body, err := c.post(ctx, "/list_models", nil)
	if err != nil {
		return nil, err
	}
	models := []string{}
	gjson.GetBytes(body, "models").ForEach(func(_, value gjson.Result) bool {
		if name := value.String(); name != "" {
			models = append(models, name)
		}
		return true
	})
	return models, nil
}

// RefreshAll asks the controller to re-probe its worker.
func (c *ControllerClient) RefreshAll(ctx context.Context) error {
	_, err := c.post(ctx, "/refresh_all_workers", nil)
	return err
}

func (c *ControllerClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if payload != nil {
		data, errMarshal := json.Marshal(payload)
		if errMarshal != nil {
			return nil, fmt.Errorf("controller %s: encode: %w", path, errMarshal)
		}
		reader = bytes.NewReader(data)
	}
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if errReq != nil {
		return nil, fmt.Errorf("%w: %v", ErrControllerUnavailable, errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, errDo := c.httpClient.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("%w: %v", ErrControllerUnavailable, errDo)
	}
	defer func() { _ = resp.Body.Close() }()
	data, errRead := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if errRead != nil {
		return nil, fmt.Errorf("%w: %v", ErrControllerUnavailable, errRead)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrControllerUnavailable, path, resp.StatusCode)
	}
	return data, nil
}
