package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// APIClient talks to the platform's own REST API (rankings), which sits beside
// the backend-as-a-service and accepts the same bearer token.
type APIClient struct {
	c       *Client
	baseURL string
}

func NewAPIClient(baseURL string, c *Client) *APIClient {
	return &APIClient{c: c, baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *APIClient) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return a.c.do(ctx, &request{base: a.baseURL, method: http.MethodGet, path: path, query: query}, out)
}
