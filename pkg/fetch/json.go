package fetch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jzx17/deadlinefetch/pkg/types"
)

// JSON performs Fetch and decodes a successful body into T. A body that
// cannot be decoded is reported as a *types.ClientError carrying the payload.
func JSON[T any](ctx context.Context, c *Client, path string, opts Options) (T, error) {
	var out T

	body, err := c.Fetch(ctx, path, opts)
	if err != nil {
		return out, err
	}
	if len(body) == 0 {
		return out, nil
	}

	if err := json.Unmarshal(body, &out); err != nil {
		return out, &types.ClientError{ErrorRecord: types.ErrorRecord{
			Payload: body,
			Cause:   fmt.Errorf("failed to decode response body: %w", err),
		}}
	}
	return out, nil
}
