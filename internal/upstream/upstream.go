// Package upstream fetches keys missing from the local store from another
// filekv server speaking the same JSON protocol.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Client struct {
	URL    string
	Client *http.Client
}

func New(url string, timeout time.Duration) *Client {
	return &Client{
		URL: url,
		Client: &http.Client{
			Timeout: timeout,
		},
	}
}

type Request struct {
	Type string   `json:"type"`
	Keys []string `json:"keys,omitempty"`
}

type Response struct {
	Type  string         `json:"type"`
	Data  map[string]any `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

// Fetch asks the upstream server for key. A nil client, a 404 and an
// absent or null value all report ok == false without an error.
func (c *Client) Fetch(ctx context.Context, key string) (any, bool, error) {
	if c == nil || c.URL == "" {
		return nil, false, nil
	}
	b, err := json.Marshal(&Request{Type: "GET", Keys: []string{key}})
	if err != nil {
		return nil, false, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(b))
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("upstream %s: %s", c.URL, resp.Status)
	}

	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, false, err
	}
	if r.Type == "ERR" {
		return nil, false, fmt.Errorf("upstream %s: %s", c.URL, r.Error)
	}
	val, ok := r.Data[key]
	if !ok || val == nil {
		return nil, false, nil
	}
	return val, true, nil
}
