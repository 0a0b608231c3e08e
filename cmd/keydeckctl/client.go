package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	httphandler "github.com/dmaloy/keydeck/internal/adapter/driving/http"
)

// apiClient is a thin wrapper over the daemon's REST API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		base: "http://" + addr,
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

// do performs one request and decodes the JSON response into out (when out is
// non-nil). Error responses surface the daemon's error message.
func (c *apiClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) snapshot(sort string) (httphandler.SnapshotResponse, error) {
	path := "/api/v1/keys"
	if sort != "" {
		path += "?sort=" + sort
	}
	var resp httphandler.SnapshotResponse
	err := c.do(http.MethodGet, path, nil, &resp)
	return resp, err
}
