package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/advice"
	"github.com/kkzk/remindmine/internal/indexer"
	"github.com/kkzk/remindmine/internal/ledger"
	"github.com/kkzk/remindmine/internal/services"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

type searchIssuesInput struct {
	Query     string `json:"query" jsonschema:"Free text describing the problem"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 5, max: 50)"`
	ExcludeID int    `json:"exclude_id,omitempty" jsonschema:"Issue id to leave out of the results"`
}

type searchHit struct {
	IssueID    int     `json:"issue_id" jsonschema:"Tracker issue id"`
	Subject    string  `json:"subject" jsonschema:"Issue subject"`
	Similarity float64 `json:"similarity" jsonschema:"Similarity score in [0,1]"`
	Content    string  `json:"content" jsonschema:"Matched chunk text"`
}

type searchIssuesOutput struct {
	Query   string      `json:"query" jsonschema:"Search query used"`
	Results []searchHit `json:"results" jsonschema:"Matching chunks, most similar first"`
	Count   int         `json:"count" jsonschema:"Number of results"`
}

type generateAdviceInput struct {
	IssueID int  `json:"issue_id" jsonschema:"Tracker issue id"`
	Store   bool `json:"store,omitempty" jsonschema:"Record the advice in the pending ledger for review"`
}

type generateAdviceOutput struct {
	IssueID   int    `json:"issue_id" jsonschema:"Tracker issue id"`
	Advice    string `json:"advice" jsonschema:"Generated advice including the signature header"`
	PendingID string `json:"pending_id,omitempty" jsonschema:"Ledger id when stored"`
}

type listPendingInput struct{}

type pendingItem struct {
	ID        string `json:"id" jsonschema:"Ledger id"`
	IssueID   int    `json:"issue_id" jsonschema:"Tracker issue id"`
	Subject   string `json:"subject" jsonschema:"Issue subject"`
	Advice    string `json:"advice" jsonschema:"Drafted advice"`
	IssueURL  string `json:"issue_url" jsonschema:"Link to the issue"`
	CreatedAt string `json:"created_at" jsonschema:"RFC 3339 creation time"`
}

type listPendingOutput struct {
	Pending []pendingItem `json:"pending" jsonschema:"Pending advice, newest first"`
	Count   int           `json:"count" jsonschema:"Number of pending entries"`
}

type reindexInput struct {
	Force bool `json:"force,omitempty" jsonschema:"Drop and rebuild the collection"`
}

type reindexOutput struct {
	ChunksAdded int  `json:"chunks_added" jsonschema:"Chunks embedded and stored"`
	Force       bool `json:"force" jsonschema:"Whether a full rebuild ran"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_issues",
		Description: "Search past tracker issues similar to a problem description",
	}, s.searchIssues)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "generate_advice",
		Description: "Draft advice for a tracker issue from similar past cases",
	}, s.generateAdvice)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_pending_advice",
		Description: "List drafted advice waiting for review",
	}, s.listPendingAdvice)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reindex",
		Description: "Bring the issue index in line with the tracker",
	}, s.reindex)
}

func (s *Server) searchIssues(ctx context.Context, _ *mcp.CallToolRequest, args searchIssuesInput) (*mcp.CallToolResult, searchIssuesOutput, error) {
	var toolErr error
	done := s.metrics.track(ctx, "search_issues")
	defer func() { done(toolErr) }()

	if strings.TrimSpace(args.Query) == "" {
		toolErr = errors.New("query is required")
		return nil, searchIssuesOutput{}, toolErr
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	var exclude *int
	if args.ExcludeID > 0 {
		exclude = &args.ExcludeID
	}
	results, _ := s.reg.Retriever().Search(ctx, args.Query, limit, exclude)

	out := searchIssuesOutput{Query: args.Query, Results: make([]searchHit, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, searchHit{
			IssueID:    r.ItemID,
			Subject:    r.Metadata[indexer.MetaSubject],
			Similarity: r.Similarity,
			Content:    r.Text,
		})
	}
	out.Count = len(out.Results)
	return nil, out, nil
}

func (s *Server) generateAdvice(ctx context.Context, _ *mcp.CallToolRequest, args generateAdviceInput) (*mcp.CallToolResult, generateAdviceOutput, error) {
	var toolErr error
	done := s.metrics.track(ctx, "generate_advice")
	defer func() { done(toolErr) }()

	if args.IssueID <= 0 {
		toolErr = fmt.Errorf("invalid issue_id %d", args.IssueID)
		return nil, generateAdviceOutput{}, toolErr
	}
	res, err := services.AdviseItem(ctx, s.reg, args.IssueID, args.Store)
	if err != nil {
		s.logger.Warn("advice tool failed", zap.Int("issue_id", args.IssueID), zap.Error(err))
		if errors.Is(err, advice.ErrNoAdvice) {
			toolErr = fmt.Errorf("%s: %w", advice.Apology, err)
		} else {
			toolErr = fmt.Errorf("generating advice: %w", err)
		}
		return nil, generateAdviceOutput{}, toolErr
	}
	return nil, generateAdviceOutput{
		IssueID:   res.IssueID,
		Advice:    res.Advice,
		PendingID: res.PendingID,
	}, nil
}

func (s *Server) listPendingAdvice(ctx context.Context, _ *mcp.CallToolRequest, _ listPendingInput) (*mcp.CallToolResult, listPendingOutput, error) {
	done := s.metrics.track(ctx, "list_pending_advice")
	defer done(nil)

	entries := services.PendingAdvice(s.reg)
	out := listPendingOutput{Pending: make([]pendingItem, 0, len(entries)), Count: len(entries)}
	for _, e := range entries {
		out.Pending = append(out.Pending, toPendingItem(e))
	}
	return nil, out, nil
}

func (s *Server) reindex(ctx context.Context, _ *mcp.CallToolRequest, args reindexInput) (*mcp.CallToolResult, reindexOutput, error) {
	var toolErr error
	done := s.metrics.track(ctx, "reindex")
	defer func() { done(toolErr) }()

	n, err := s.reg.Resyncer().Resync(ctx, args.Force)
	if err != nil {
		toolErr = fmt.Errorf("reindex failed: %w", err)
		return nil, reindexOutput{}, toolErr
	}
	return nil, reindexOutput{ChunksAdded: n, Force: args.Force}, nil
}

func toPendingItem(e ledger.Entry) pendingItem {
	return pendingItem{
		ID:        e.ID,
		IssueID:   e.IssueID,
		Subject:   e.IssueSubject,
		Advice:    e.AdviceContent,
		IssueURL:  e.IssueURL,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
	}
}
