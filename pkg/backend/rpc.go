package backend

import (
	"context"
	"net/http"
)

// RPC invokes a named remote procedure with params as its JSON argument object.
func (c *Client) RPC(ctx context.Context, name string, params interface{}, out interface{}) error {
	if params == nil {
		params = map[string]interface{}{}
	}
	return c.do(ctx, &request{method: http.MethodPost, path: "/rest/v1/rpc/" + name, body: params}, out)
}

// Invoke calls an edge function.
func (c *Client) Invoke(ctx context.Context, function string, body interface{}, out interface{}) error {
	return c.do(ctx, &request{method: http.MethodPost, path: "/functions/v1/" + function, body: body}, out)
}
