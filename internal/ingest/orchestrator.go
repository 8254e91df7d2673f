package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/nwpingest/internal/events"
	"github.com/lox/nwpingest/internal/metrics"
	"github.com/lox/nwpingest/internal/models"
	"github.com/lox/nwpingest/internal/nwp"
	"github.com/lox/nwpingest/internal/store"
)

// FileIngestor ingests a single model file.
type FileIngestor interface {
	Ingest(ctx context.Context, f nwp.File) Outcome
}

// OrchestratorStore is the persistence the orchestrator reads and audits
// through.
type OrchestratorStore interface {
	ProcessedCount(ctx context.Context, urls []string) (int, error)
	GetPredictionModel(ctx context.Context, abbreviation, projection string) (*models.PredictionModel, error)
	GetOrCreateRun(ctx context.Context, modelID int64, runTimestamp time.Time) (*models.ModelRun, error)
	MarkRunComplete(ctx context.Context, runID int64) error
	StartIngestRun(ctx context.Context, model string) (*store.IngestRun, error)
	CompleteIngestRun(ctx context.Context, run *store.IngestRun) error
}

// Summary counts what one orchestration pass did.
type Summary struct {
	FilesDownloaded int
	FilesProcessed  int
	Exceptions      int
	RunsCompleted   int
}

type Orchestrator struct {
	kind      nwp.Kind
	builder   *nwp.Builder
	ingestor  FileIngestor
	store     OrchestratorStore
	publisher events.Publisher
	clock     clockwork.Clock
}

func NewOrchestrator(kind nwp.Kind, builder *nwp.Builder, ingestor FileIngestor, st OrchestratorStore, publisher events.Publisher, clock clockwork.Clock) *Orchestrator {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		kind:      kind,
		builder:   builder,
		ingestor:  ingestor,
		store:     st,
		publisher: publisher,
		clock:     clock,
	}
}

func (o *Orchestrator) Kind() nwp.Kind { return o.kind }

// Run makes one pass over every run hour of the model. Failures of a single
// file or run hour are counted in Summary.Exceptions and the pass carries
// on; the returned error is only set when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	model := o.kind.String()

	audit, err := o.store.StartIngestRun(context.WithoutCancel(ctx), model)
	if err != nil {
		log.Printf("orchestrator: %s: failed to start ingest run audit: %v", model, err)
	}

	now := o.clock.Now()
	for _, hour := range o.kind.RunHours() {
		if err := ctx.Err(); err != nil {
			o.finishAudit(ctx, audit, sum, err)
			return sum, err
		}
		o.runHour(ctx, now, hour, &sum)
	}

	log.Printf("orchestrator: %s: %d files downloaded, %d processed, %d exceptions, %d runs completed",
		model, sum.FilesDownloaded, sum.FilesProcessed, sum.Exceptions, sum.RunsCompleted)
	o.finishAudit(ctx, audit, sum, ctx.Err())
	return sum, ctx.Err()
}

func (o *Orchestrator) exception(sum *Summary, format string, args ...any) {
	sum.Exceptions++
	metrics.IngestExceptions.WithLabelValues(o.kind.String()).Inc()
	log.Printf("orchestrator: "+format, args...)
}

func (o *Orchestrator) runHour(ctx context.Context, now time.Time, hour int, sum *Summary) {
	model := o.kind.String()
	files, err := o.builder.Files(o.kind, now, hour)
	if err != nil {
		o.exception(sum, "%s %02dZ: build urls: %v", model, hour, err)
		return
	}
	if len(files) == 0 {
		return
	}
	runTS := files[0].RunTimestamp
	log.Printf("orchestrator: %s run %s: in progress (%d files)", model, runTS.Format("2006010215"), len(files))

	for _, f := range files {
		if ctx.Err() != nil {
			return
		}
		out := o.ingest(ctx, f)
		if out.Downloaded {
			sum.FilesDownloaded++
		}
		switch out.Kind {
		case Processed:
			sum.FilesProcessed++
		case Failed:
			o.exception(sum, "%s: %v", model, out.Err)
		}
	}

	if err := o.checkComplete(ctx, files, sum); err != nil {
		o.exception(sum, "%s run %s: completeness check: %v", model, runTS.Format("2006010215"), err)
	}
}

// ingest shields the pass from a panicking file.
func (o *Orchestrator) ingest(ctx context.Context, f nwp.File) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("orchestrator: panic ingesting %s: %v\n%s", f.URL, r, debug.Stack())
			out = Outcome{Kind: Failed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return o.ingestor.Ingest(ctx, f)
}

func (o *Orchestrator) checkComplete(ctx context.Context, files []nwp.File, sum *Summary) error {
	urls := nwp.URLs(files)
	n, err := o.store.ProcessedCount(ctx, urls)
	if err != nil {
		return err
	}
	if n != len(urls) {
		return nil
	}

	m, err := o.store.GetPredictionModel(ctx, o.kind.String(), o.kind.Projection())
	if err != nil {
		return err
	}
	run, err := o.store.GetOrCreateRun(ctx, m.ID, files[0].RunTimestamp)
	if err != nil {
		return err
	}
	if run.Complete {
		return nil
	}
	if err := o.store.MarkRunComplete(ctx, run.ID); err != nil {
		return err
	}
	sum.RunsCompleted++
	metrics.RunsCompleted.WithLabelValues(m.Abbreviation).Inc()
	log.Printf("orchestrator: %s run %s: complete", m.Abbreviation, run.RunTimestamp.Format("2006010215"))

	if err := o.publisher.RunCompleted(ctx, events.RunCompleted{
		Model:        m.Abbreviation,
		Projection:   m.Projection,
		RunID:        run.ID,
		RunTimestamp: run.RunTimestamp,
		Files:        len(urls),
		CompletedAt:  o.clock.Now().UTC(),
	}); err != nil {
		log.Printf("orchestrator: warning: %v", err)
	}
	return nil
}

func (o *Orchestrator) finishAudit(ctx context.Context, audit *store.IngestRun, sum Summary, runErr error) {
	if audit == nil {
		return
	}
	audit.FilesDownloaded = sql.NullInt64{Int64: int64(sum.FilesDownloaded), Valid: true}
	audit.FilesProcessed = sql.NullInt64{Int64: int64(sum.FilesProcessed), Valid: true}
	audit.Exceptions = sql.NullInt64{Int64: int64(sum.Exceptions), Valid: true}
	audit.RunsCompleted = sql.NullInt64{Int64: int64(sum.RunsCompleted), Valid: true}
	audit.Success = runErr == nil && sum.Exceptions == 0
	switch {
	case runErr != nil:
		audit.ErrorMessage = sql.NullString{String: runErr.Error(), Valid: true}
	case sum.Exceptions > 0:
		audit.ErrorMessage = sql.NullString{String: fmt.Sprintf("%d exceptions", sum.Exceptions), Valid: true}
	}
	// The pass context may already be cancelled; the audit row still gets
	// closed.
	if err := o.store.CompleteIngestRun(context.WithoutCancel(ctx), audit); err != nil {
		log.Printf("orchestrator: failed to complete ingest run audit: %v", err)
	}
}
