// Package importer seeds monarch records into a remote family-tree API.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/dukerupert/familytree/internal/model"
)

const (
	importPath = "/api/cosmos/monarchs/import"
	// maxSnippet bounds how much of an error response body is echoed back.
	maxSnippet = 512
)

// ErrNoMonarchs is returned when the input file holds an empty array.
var ErrNoMonarchs = errors.New("no monarch records to import")

// StatusError reports a non-2xx response from the import endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("import API error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("import API error: status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the full URL records are posted to.
func (c *Client) Endpoint() string {
	return c.baseURL + importPath
}

type importRequest struct {
	Monarchs []model.Monarch `json:"monarchs"`
}

// Result is what the import endpoint answered.
type Result struct {
	StatusCode int
	Count      int
	Body       []byte
}

// LoadFile reads a JSON array of monarch records. Records are kept verbatim.
func LoadFile(path string) ([]model.Monarch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read monarchs file: %w", err)
	}
	var monarchs []model.Monarch
	if err := json.Unmarshal(data, &monarchs); err != nil {
		return nil, fmt.Errorf("parse monarchs file: %w", err)
	}
	return monarchs, nil
}

// Import posts all monarchs in a single request.
func (c *Client) Import(ctx context.Context, monarchs []model.Monarch) (*Result, error) {
	if len(monarchs) == 0 {
		return nil, ErrNoMonarchs
	}

	body, err := json.Marshal(importRequest{Monarchs: monarchs})
	if err != nil {
		return nil, fmt.Errorf("marshal monarchs: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post monarchs: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet(respBody)}
	}

	return &Result{StatusCode: resp.StatusCode, Count: len(monarchs), Body: respBody}, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxSnippet {
		s = s[:maxSnippet] + "..."
	}
	return s
}
