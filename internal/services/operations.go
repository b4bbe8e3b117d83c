package services

import (
	"context"
	"fmt"
	"time"

	"github.com/kkzk/remindmine/internal/indexer"
	"github.com/kkzk/remindmine/internal/ledger"
)

// Stats summarizes the index and the advice pipeline.
type Stats struct {
	indexer.Stats
	PendingAdvice  int       `json:"pending_advice"`
	LastPollCutoff time.Time `json:"last_poll_cutoff"`
	AutoAdvice     bool      `json:"auto_advice_enabled"`
}

// CollectStats gathers Stats from reg.
func CollectStats(ctx context.Context, reg Registry) (Stats, error) {
	ixStats, err := reg.Indexer().Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Stats:          ixStats,
		PendingAdvice:  reg.Ledger().Len(),
		LastPollCutoff: reg.Checkpoints().Load(),
		AutoAdvice:     reg.Settings().AutoAdvice(),
	}, nil
}

// AdviceResult is the outcome of AdviseItem.
type AdviceResult struct {
	IssueID   int    `json:"issue_id"`
	Advice    string `json:"advice"`
	PendingID string `json:"pending_id,omitempty"`
}

// AdviseItem drafts advice for the tracker item id. With store set the
// draft is added to the pending ledger for review.
func AdviseItem(ctx context.Context, reg Registry, id int, store bool) (AdviceResult, error) {
	item, err := reg.Source().GetItem(ctx, id)
	if err != nil {
		return AdviceResult{}, err
	}
	text, err := reg.Synthesizer().Generate(ctx, *item)
	if err != nil {
		return AdviceResult{}, err
	}
	res := AdviceResult{IssueID: id, Advice: text}
	if store {
		if res.PendingID, err = reg.Ledger().Add(*item, text); err != nil {
			return AdviceResult{}, fmt.Errorf("storing pending advice: %w", err)
		}
	}
	return res, nil
}

// PendingAdvice lists the ledger, newest first.
func PendingAdvice(reg Registry) []ledger.Entry {
	return reg.Ledger().GetAll()
}
