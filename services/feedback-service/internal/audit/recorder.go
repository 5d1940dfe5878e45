package audit

import (
	"context"
	"log/slog"
)

// Sink receives audit entries. The write is fire-and-forget relative to the
// caller's main result: implementations must not return errors.
type Sink interface {
	Record(ctx context.Context, e Entry)
}

// Recorder writes entries through the repository and downgrades write failures
// to operational logs so a broken audit store never aborts a verification or
// submission.
type Recorder struct {
	repo   *Repository
	logger *slog.Logger
}

func NewRecorder(repo *Repository, logger *slog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, e Entry) {
	if err := r.repo.Record(ctx, e); err != nil {
		r.logger.Error("audit write failed",
			"err", err,
			"action", e.Action,
			"outcome", e.Outcome,
			"reason", e.Reason,
		)
	}
}
