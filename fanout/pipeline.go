package fanout

import (
	"context"
	"log/slog"

	"github.com/poiesic/crossfeed/ai"
	"github.com/poiesic/crossfeed/core"
	"github.com/poiesic/crossfeed/dispatch"
	"github.com/poiesic/crossfeed/storage"
)

// Pipeline owns the write path: it validates a record, enriches it,
// commits it to the system of record, and enqueues its fan-out tasks in
// the status ledger. Task execution belongs to the Pool.
type Pipeline struct {
	records  storage.RecordStore
	ledger   storage.TaskLedger
	enricher ai.Enricher
	logger   *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline) error

// WithEnricher attaches an AI enricher. Enrichment is best-effort: when
// it fails, the record is still committed and fanned out without derived
// fields.
func WithEnricher(enricher ai.Enricher) PipelineOption {
	return func(p *Pipeline) error {
		p.enricher = enricher
		return nil
	}
}

// WithPipelineLogger sets a custom logger.
// Default is slog.Default().
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates an ingestion pipeline over the given record store
// and ledger.
func NewPipeline(records storage.RecordStore, ledger storage.TaskLedger, opts ...PipelineOption) (*Pipeline, error) {
	if records == nil {
		return nil, ErrRecordStoreRequired
	}
	if ledger == nil {
		return nil, ErrLedgerRequired
	}

	p := &Pipeline{
		records: records,
		ledger:  ledger,
		logger:  slog.Default().With("component", "fanout-pipeline"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Ingest commits one feedback record and enqueues its fan-out tasks.
//
// When the record store supports it, the commit and the pending task
// rows land in one transaction, so a record is never visible without
// its fan-out obligations; otherwise the reconciler's repair pass
// re-dispatches records whose ledger rows went missing. Enrichment
// failures degrade to an unenriched record rather than failing the
// ingest; downstream stores receive whatever derived fields exist.
func (p *Pipeline) Ingest(ctx context.Context, record *core.FeedbackRecord) (*core.FeedbackRecord, error) {
	if err := core.ValidateFeedbackRecord(record); err != nil {
		return nil, err
	}

	if p.enricher != nil && record.OpenText != "" && record.Derived == nil {
		enrichment, err := p.enricher.Enrich(ctx, record.OpenText)
		if err != nil {
			p.logger.Warn("enrichment failed, ingesting without derived fields", "err", err)
		} else {
			record.Derived = &core.Derived{
				Sentiment: enrichment.Sentiment,
				Topics:    enrichment.Topics,
				Entities:  enrichment.Entities,
				Summary:   enrichment.Summary,
			}
		}
	}

	var added *core.FeedbackRecord
	if atomic, ok := p.records.(storage.AtomicIngestor); ok {
		var err error
		added, err = atomic.AddRecordWithTasks(ctx, record, dispatch.Dispatch)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		added, err = p.records.AddRecord(ctx, record)
		if err != nil {
			return nil, err
		}
		if err := p.Redispatch(ctx, added); err != nil {
			return nil, err
		}
	}

	p.logger.Info("ingested feedback record",
		"id", added.Id, "student_id", added.StudentID, "category", added.Category)
	return added, nil
}

// Redispatch recomputes a record's fan-out tasks and upserts them as
// pending. Used on first ingest and by repair to reset failed_terminal
// lanes.
func (p *Pipeline) Redispatch(ctx context.Context, record *core.FeedbackRecord) error {
	tasks, err := dispatch.Dispatch(record)
	if err != nil {
		return err
	}
	return p.ledger.CreatePending(ctx, tasks)
}

// EnsureDerived retries enrichment for a committed record that was
// ingested without derived fields and persists the result. A record
// that already has them, has no open text, or has no enricher to ask
// is left alone.
func (p *Pipeline) EnsureDerived(ctx context.Context, record *core.FeedbackRecord) error {
	if p.enricher == nil || record.Derived != nil || record.OpenText == "" {
		return nil
	}

	enrichment, err := p.enricher.Enrich(ctx, record.OpenText)
	if err != nil {
		return err
	}
	record.Derived = &core.Derived{
		Sentiment: enrichment.Sentiment,
		Topics:    enrichment.Topics,
		Entities:  enrichment.Entities,
		Summary:   enrichment.Summary,
	}
	return p.records.UpdateDerived(ctx, record.Id, record.Derived)
}

// Record returns one committed record.
func (p *Pipeline) Record(ctx context.Context, id core.ID) (*core.FeedbackRecord, error) {
	return p.records.GetRecord(ctx, id)
}

// TaskStatuses returns the ledger rows for a record, keyed by target.
func (p *Pipeline) TaskStatuses(ctx context.Context, id core.ID) (map[core.TargetStore]*storage.TaskRecord, error) {
	tasks, err := p.ledger.TasksForRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	byTarget := make(map[core.TargetStore]*storage.TaskRecord, len(tasks))
	for _, task := range tasks {
		byTarget[task.Target] = task
	}
	return byTarget, nil
}
