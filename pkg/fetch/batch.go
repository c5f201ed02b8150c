package fetch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Request is one entry of a FetchAll batch
type Request struct {
	Path    string
	Options Options
}

// Result is the outcome of one batch entry; Err is one of the four terminal kinds
type Result struct {
	Body []byte
	Err  error
}

// FetchAll runs independent calls concurrently, at most limit at a time
// (limit <= 0 means unbounded). Each call keeps its own attempt counter and
// budget. Results are in request order; one failure does not cancel the others.
func (c *Client) FetchAll(ctx context.Context, reqs []Request, limit int) []Result {
	results := make([]Result, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, r := range reqs {
		g.Go(func() error {
			body, err := c.Fetch(gctx, r.Path, r.Options)
			results[i] = Result{Body: body, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
