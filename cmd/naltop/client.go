package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/zsiec/nalrelay/internal/errors"
	"github.com/zsiec/nalrelay/internal/registry"
	"github.com/zsiec/nalrelay/internal/server"
	"github.com/zsiec/nalrelay/pkg/version"
)

// apiClient talks to the relay HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, hc *http.Client) *apiClient {
	return &apiClient{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *apiClient) Streams(ctx context.Context) ([]*registry.Stream, error) {
	var list server.StreamList
	if err := c.do(ctx, http.MethodGet, "/api/v1/streams", http.StatusOK, &list); err != nil {
		return nil, err
	}
	return list.Streams, nil
}

func (c *apiClient) Disconnect(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/streams/"+url.PathEscape(id), http.StatusNoContent, nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, want int, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.GetInfo().UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var apiErr apperrors.ErrorResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
