package advice

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/ledger"
	"github.com/kkzk/remindmine/internal/tracker"
)

// Commenter publishes advice to the tracker.
type Commenter interface {
	PostComment(ctx context.Context, id int, text string) error
}

// Reviewer applies human decisions to pending advice.
type Reviewer struct {
	ledger    *ledger.Ledger
	commenter Commenter
	logger    *zap.Logger
}

// NewReviewer creates a Reviewer.
func NewReviewer(l *ledger.Ledger, commenter Commenter, logger *zap.Logger) *Reviewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviewer{ledger: l, commenter: commenter, logger: logger}
}

// Approve posts the pending advice with id to the tracker, then removes
// it. When posting fails the entry stays pending.
func (r *Reviewer) Approve(ctx context.Context, id string) (ledger.Entry, error) {
	e, err := r.ledger.Get(id)
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := r.commenter.PostComment(ctx, e.IssueID, e.AdviceContent); err != nil {
		r.logger.Error("posting approved advice failed", zap.Int("issue_id", e.IssueID), zap.Error(err))
		return ledger.Entry{}, fmt.Errorf("posting advice for issue %d: %w", e.IssueID, err)
	}
	return r.ledger.Approve(id)
}

// Reject discards the pending advice with id.
func (r *Reviewer) Reject(_ context.Context, id string) (ledger.Entry, error) {
	return r.ledger.Reject(id)
}

var _ Commenter = (tracker.Source)(nil)
