// Package crmstore implements the record store adapter for a CRM-style
// HTTP record service.
//
// The adapter speaks a small REST surface: GET/PUT/DELETE on
// /records/{key} and a paginated GET /records?prefix=...&cursor=... for
// key listing. Authentication is a bearer token; transport details stay
// entirely inside this package. Reachability failures and timeouts map to
// store.ErrUnavailable, service-reported failures to store.ErrBackend.
package crmstore

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

	"github.com/blackroad/statesync/internal/store"
)

// Name is the backend identifier used in snapshots and sync reports.
const Name = "crm"

// Config holds connection settings for the CRM record service.
type Config struct {
	// BaseURL is the service root, e.g. "https://crm.example.com/api/v1".
	BaseURL string

	// APIToken is the bearer token sent on every request.
	APIToken string

	// Timeout bounds each HTTP call when the caller's context carries no
	// earlier deadline. Defaults to 10s.
	Timeout time.Duration

	// HTTPClient overrides the transport, mainly for tests. When nil a
	// client with Timeout is used.
	HTTPClient *http.Client
}

// CRMStore is a record store backed by a remote CRM service.
type CRMStore struct {
	baseURL string
	token   string
	client  *http.Client
}

// New creates a CRM store adapter from config.
func New(cfg Config) (*CRMStore, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("crm base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &CRMStore{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		client:  client,
	}, nil
}

// Name implements store.Store.
func (c *CRMStore) Name() string { return Name }

func (c *CRMStore) recordURL(key string) string {
	return c.baseURL + "/records/" + url.PathEscape(key)
}

func (c *CRMStore) do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %v: %w", Name, err, store.ErrBackend)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network-level failures (DNS, refused, timeout) are transient.
		return nil, fmt.Errorf("%s: request failed: %v: %w", Name, err, store.ErrUnavailable)
	}
	return resp, nil
}

// classifyStatus maps an HTTP status code onto the store taxonomy.
func classifyStatus(status int, key string) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: key %s: %w", Name, key, store.ErrNotFound)
	case status == http.StatusTooManyRequests,
		status == http.StatusServiceUnavailable,
		status == http.StatusBadGateway,
		status == http.StatusGatewayTimeout:
		return fmt.Errorf("%s: status %d: %w", Name, status, store.ErrUnavailable)
	default:
		return fmt.Errorf("%s: status %d: %w", Name, status, store.ErrBackend)
	}
}

// Get implements store.Store.
func (c *CRMStore) Get(ctx context.Context, key string) (*store.Record, error) {
	resp, err := c.do(ctx, http.MethodGet, c.recordURL(key), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, key)
	}

	var rec store.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%s: failed to decode record %s: %v: %w", Name, key, err, store.ErrBackend)
	}
	if rec.Key == "" {
		rec.Key = key
	}
	if err := rec.Verify(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put implements store.Store.
func (c *CRMStore) Put(ctx context.Context, rec *store.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal record %s: %v: %w", Name, rec.Key, err, store.ErrBackend)
	}

	resp, err := c.do(ctx, http.MethodPut, c.recordURL(rec.Key), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return classifyStatus(resp.StatusCode, rec.Key)
	}
}

// Delete implements store.Store.
func (c *CRMStore) Delete(ctx context.Context, key string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.recordURL(key), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	default:
		return classifyStatus(resp.StatusCode, key)
	}
}

// listPage is one page of the key listing endpoint.
type listPage struct {
	Keys       []string `json:"keys"`
	NextCursor string   `json:"next_cursor"`
}

// ListKeys implements store.Store. The service paginates; this walks all
// pages before returning, so the result is finite and restartable from the
// start only.
func (c *CRMStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	cursor := ""

	for {
		q := url.Values{}
		if prefix != "" {
			q.Set("prefix", prefix)
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		listURL := c.baseURL + "/records"
		if enc := q.Encode(); enc != "" {
			listURL += "?" + enc
		}

		resp, err := c.do(ctx, http.MethodGet, listURL, nil)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, classifyStatus(resp.StatusCode, prefix)
		}

		var page listPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: failed to decode key listing: %v: %w", Name, err, store.ErrBackend)
		}

		keys = append(keys, page.Keys...)
		if page.NextCursor == "" {
			return keys, nil
		}
		cursor = page.NextCursor
	}
}
