package reindex

import (
	"context"

	"github.com/poiesic/crossfeed/core"
)

// RecordSource pages through the system of record in ID order.
// *sqlite.Store satisfies it.
type RecordSource interface {
	RecordsAfter(ctx context.Context, after core.ID, limit int) ([]*core.FeedbackRecord, error)
	CountRecords(ctx context.Context) (int, error)
}

// recordIterator walks the full record table in fixed-size batches
// using keyset pagination, so the working set stays bounded no matter
// how large the table is.
type recordIterator struct {
	source    RecordSource
	batchSize int
}

func newRecordIterator(source RecordSource, batchSize int) *recordIterator {
	return &recordIterator{source: source, batchSize: batchSize}
}

// forEach calls fn with each batch until the table is exhausted or fn
// returns an error.
func (it *recordIterator) forEach(ctx context.Context, fn func(records []*core.FeedbackRecord) error) error {
	var after core.ID
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := it.source.RecordsAfter(ctx, after, it.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := fn(batch); err != nil {
			return err
		}
		after = batch[len(batch)-1].Id
	}
}
