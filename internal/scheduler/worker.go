package scheduler

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
)

const (
	defaultLookahead = 2 * time.Minute
	defaultBatchSize = 50
)

// BatchResult counts what one ProcessDue pass did.
type BatchResult struct {
	Scanned   int
	Published int
	Failed    int
	Skipped   int
}

// Worker publishes due posts. Run one pass per tick.
type Worker struct {
	*publisher
	lookahead time.Duration
	batchSize int
}

// NewWorker wires the publish worker.
func NewWorker(params Params) (*Worker, error) {
	pub, err := newPublisher(params)
	if err != nil {
		return nil, err
	}
	lookahead := params.Lookahead
	if lookahead <= 0 {
		lookahead = defaultLookahead
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Worker{publisher: pub, lookahead: lookahead, batchSize: batch}, nil
}

// ProcessDue publishes every post due within the lookahead window, one at a
// time. A failure on one post never stops the rest of the batch.
func (w *Worker) ProcessDue(ctx context.Context) (BatchResult, error) {
	var result BatchResult
	cutoff := w.now().Add(w.lookahead)
	posts, err := w.repo.ListDue(ctx, cutoff, w.batchSize)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due posts")
	}
	result.Scanned = len(posts)

	var errs error
	for _, post := range posts {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		outcome, err := w.publishPost(ctx, post)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		switch {
		case outcome.Skipped:
			result.Skipped++
		case outcome.Status == enums.PostStatusPublished:
			result.Published++
		case outcome.Status == enums.PostStatusFailed:
			result.Failed++
		}
	}

	w.logg.Info(w.logg.WithFields(ctx, map[string]any{
		"scanned":   result.Scanned,
		"published": result.Published,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
	}), "publish batch complete")
	return result, errs
}
