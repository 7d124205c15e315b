package authorize

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Item is the outcome for one payload of a batch. Exactly one of Result and
// Err is set.
type Item struct {
	Index  int
	Result *Result
	Err    error
}

// Batch authorizes payloads in parallel with at most limit in flight
// (limit <= 0 means unbounded). Per-payload errors land on their Item and do
// not stop the batch; only context cancellation does.
func (p *Pipeline) Batch(ctx context.Context, payloads [][]byte, pol Policy, limit int) ([]Item, error) {
	items := make([]Item, len(payloads))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, raw := range payloads {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := p.Authorize(ctx, raw, pol)
			items[i] = Item{Index: i, Result: res, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}
