package fanout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/etl"
)

// BatchResult reports the outcome of a batch ingestion.
type BatchResult struct {
	// BatchID labels the run in logs and reports.
	BatchID string `json:"batch_id"`
	// Ingested lists every record committed to the system of record.
	Ingested []core.ID `json:"ingested"`
	// Processed lists records whose mandatory stores all succeeded.
	Processed []core.ID `json:"processed"`
	// Failed lists records with at least one failed_terminal mandatory lane.
	Failed []core.ID `json:"failed"`
}

// ProcessBatch ingests a batch of records through the normal pipeline,
// with open text normalized first, then drains the pool and waits for
// every record's mandatory lanes to reach a terminal status. Records
// whose mandatory lanes all succeeded are marked processed; the vector
// lane is best-effort and never holds the batch open.
//
// Invalid records fail the whole batch before anything is committed.
func (p *Pipeline) ProcessBatch(ctx context.Context, pool *Pool, records []*core.FeedbackRecord) (*BatchResult, error) {
	for _, record := range records {
		record.OpenText = etl.CleanText(record.OpenText)
		if err := core.ValidateFeedbackRecord(record); err != nil {
			return nil, err
		}
	}

	result := &BatchResult{BatchID: uuid.NewString()}
	for _, record := range records {
		added, err := p.Ingest(ctx, record)
		if err != nil {
			return result, err
		}
		result.Ingested = append(result.Ingested, added.Id)
	}

	p.logger.Info("batch ingested", "batch_id", result.BatchID, "records", len(result.Ingested))

	for _, id := range result.Ingested {
		outcome, err := p.waitMandatory(ctx, pool, id)
		if err != nil {
			return result, err
		}
		if outcome {
			if err := p.records.MarkProcessed(ctx, id); err != nil {
				return result, err
			}
			result.Processed = append(result.Processed, id)
		} else {
			result.Failed = append(result.Failed, id)
		}
	}

	p.logger.Info("batch completed",
		"batch_id", result.BatchID,
		"processed", len(result.Processed),
		"failed", len(result.Failed))
	return result, nil
}

// waitMandatory blocks until every mandatory lane of the record is
// terminal, draining the pool between polls. Returns true when all
// mandatory lanes succeeded.
func (p *Pipeline) waitMandatory(ctx context.Context, pool *Pool, id core.ID) (bool, error) {
	for {
		if err := pool.Drain(ctx); err != nil {
			return false, err
		}

		byTarget, err := p.TaskStatuses(ctx, id)
		if err != nil {
			return false, err
		}

		allTerminal := true
		allSucceeded := true
		for _, target := range core.MandatoryStores {
			task, ok := byTarget[target]
			if !ok {
				return false, ErrBatchIncomplete
			}
			if !task.Status.Terminal() {
				allTerminal = false
				break
			}
			if task.Status != core.StatusSucceeded {
				allSucceeded = false
			}
		}
		if allTerminal {
			return allSucceeded, nil
		}

		select {
		case <-ctx.Done():
			return false, errors.Join(ErrBatchIncomplete, ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}
