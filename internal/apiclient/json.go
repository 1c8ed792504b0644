package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// GetJSON is Get decoded into T.
func GetJSON[T any](ctx context.Context, c *Client, path string, params Params, overrides ...PolicyOverride) (T, error) {
	var out T
	raw, err := c.Get(ctx, path, params, overrides...)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, unknownError(fmt.Errorf("decoding %s response: %w", path, err))
	}
	return out, nil
}

// SendJSON issues a POST, PUT, PATCH or DELETE and decodes the reply into T.
func SendJSON[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var out T
	if method == http.MethodGet {
		return out, unknownError(fmt.Errorf("SendJSON does not issue GET requests"))
	}
	raw, err := c.send(ctx, method, path, body)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, unknownError(fmt.Errorf("decoding %s response: %w", path, err))
	}
	return out, nil
}
