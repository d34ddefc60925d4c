// Package backend is an HTTP client for the hosted backend-as-a-service: REST
// tables, remote procedures, edge functions and the auth API.
package backend

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

// TokenSource returns the bearer token for the current user, or "" to fall back
// to the anon key.
type TokenSource func(ctx context.Context) (string, error)

type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
	token   TokenSource
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

func NewClient(baseURL, anonKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetTokenSource installs the session token provider. Requests made before a
// source is set authenticate with the anon key.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.token = ts
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) AnonKey() string { return c.anonKey }

type request struct {
	base    string
	method  string
	path    string
	query   url.Values
	header  http.Header
	body    interface{}
	noToken bool
}

func (c *Client) bearer(ctx context.Context, r *request) (string, error) {
	if r.noToken || c.token == nil {
		return c.anonKey, nil
	}
	tok, err := c.token(ctx)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return c.anonKey, nil
	}
	return tok, nil
}

// do sends r and decodes a 2xx JSON body into out (when non-nil). Non-2xx
// responses are returned as *Error.
func (c *Client) do(ctx context.Context, r *request, out interface{}) error {
	base := c.baseURL
	if r.base != "" {
		base = r.base
	}
	u := base + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return err
	}
	tok, err := c.bearer(ctx, r)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range r.header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: r.method + " " + r.path, Err: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: r.method + " " + r.path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp.StatusCode, respBody)
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &DecodeError{Op: r.method + " " + r.path, Err: err}
	}
	return nil
}
