package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/interviewace/session-server/internal/config"
)

const maxErrorBodySize = 4 << 10

// APIError is returned for non-2xx responses from an external API.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api failed with status %d: %s", e.Service, e.StatusCode, e.Body)
}

// apiClient sends authenticated requests to one external HTTP API.
type apiClient struct {
	service   string
	baseURL   string
	client    *http.Client
	authorize func(req *http.Request)
}

func newAPIClient(service, baseURL string, authorize func(req *http.Request)) *apiClient {
	return &apiClient{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: config.ExternalRequestTimeout,
		},
		authorize: authorize,
	}
}

func bearerAuth(token string) func(req *http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func basicAuth(user, password string) func(req *http.Request) {
	return func(req *http.Request) {
		req.SetBasicAuth(user, password)
	}
}

func (c *apiClient) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.do(ctx, path, "application/json", bytes.NewReader(body), out)
}

func (c *apiClient) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	endpoint := c.baseURL + path
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.authorize != nil {
		c.authorize(req)
	}

	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("service", c.service).
			Str("path", path).
			Dur("elapsed", elapsed).
			Msg("external api request error")
		return fmt.Errorf("%s request failed: %w", c.service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		log.Error().
			Str("service", c.service).
			Str("path", path).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("external api request failed")
		return &APIError{Service: c.service, StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	log.Debug().
		Str("service", c.service).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("external api request successful")

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.service, err)
	}
	return nil
}
