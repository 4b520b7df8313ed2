// Package grok talks to the OpenGrok indexing service, both over its REST
// API and through its management command line tools.
package grok

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// API is the OpenGrok REST surface the reconciler depends on.
type API interface {
	// ProjectNames returns the names of all registered projects
	ProjectNames(ctx context.Context) ([]string, error)
	// AddProject registers a project by name
	AddProject(ctx context.Context, name string) error
	// DeleteProject deregisters a project by name
	DeleteProject(ctx context.Context, name string) error
	// Configuration returns the service configuration snapshot, passed
	// through to the indexer tool unmodified
	Configuration(ctx context.Context) ([]byte, error)
}

// Client implements API against an OpenGrok web application.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates an API client for the service rooted at serverURL.
func NewClient(serverURL string) *Client {
	return &Client{
		baseURL: serverURL + "/api/v1",
		client:  http.DefaultClient,
	}
}

// ProjectNames returns the names of all registered projects
func (c *Client) ProjectNames(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/projects", "", nil)
	if err != nil {
		return nil, err
	}

	var names []string
	if err := json.Unmarshal(body, &names); err != nil {
		return nil, fmt.Errorf("failed to parse project list: %w", err)
	}
	return names, nil
}

// AddProject registers a project by name
func (c *Client) AddProject(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodPost, c.baseURL+"/projects", "text/plain", bytes.NewBufferString(name))
	return err
}

// DeleteProject deregisters a project by name
func (c *Client) DeleteProject(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodDelete, c.baseURL+"/projects/"+url.PathEscape(name), "", nil)
	return err
}

// Configuration returns the service configuration snapshot
func (c *Client) Configuration(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.baseURL+"/configuration", "", nil)
}

func (c *Client) do(ctx context.Context, method, rawURL, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, rawURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s failed: unexpected status %s", method, rawURL, resp.Status)
	}

	return data, nil
}
