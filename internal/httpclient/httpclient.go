// Package httpclient sends JSON requests to collaborating services and processors.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusError is returned for responses with a status code of 400 or above
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// Request describes one outbound call. Body, JSON and Form are mutually exclusive.
type Request struct {
	Method    string
	URL       string
	Headers   map[string]string
	// Body is sent verbatim as JSON, for payloads that are signed before sending
	Body      []byte
	JSON      interface{}
	Form      url.Values
	BasicUser string
	BasicPass string
}

type Client struct {
	client *http.Client
}

func New(timeout time.Duration) *Client {
	return &Client{client: &http.Client{Timeout: timeout}}
}

// NewWithHTTPClient wraps an existing http.Client
func NewWithHTTPClient(c *http.Client) *Client {
	return &Client{client: c}
}

// Do sends req and decodes a JSON response body into out when out is not nil
func (c *Client) Do(ctx context.Context, req Request, out interface{}) error {
	var bodyReader io.Reader
	contentType := ""
	switch {
	case req.Body != nil:
		bodyReader = bytes.NewReader(req.Body)
		contentType = "application/json"
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		bodyReader = bytes.NewReader(data)
		contentType = "application/json"
	case req.Form != nil:
		bodyReader = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.BasicUser != "" {
		httpReq.SetBasicAuth(req.BasicUser, req.BasicPass)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// PostJSON is Do with a JSON POST body
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, payload, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodPost, URL: url, Headers: headers, JSON: payload}, out)
}

// GetJSON is Do with a GET request
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: url, Headers: headers}, out)
}
