// Package advice drafts troubleshooting advice for new tracker items from
// similar past items and routes it through human review.
package advice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/indexer"
	"github.com/kkzk/remindmine/internal/llm"
	"github.com/kkzk/remindmine/internal/normalize"
	"github.com/kkzk/remindmine/internal/retrieval"
	"github.com/kkzk/remindmine/internal/tracker"
)

const (
	// DefaultSignature marks tracker comments that carry generated advice.
	DefaultSignature = "AI advice"

	// NoRelatedCases is the context used when the index has no neighbors.
	NoRelatedCases = "No related past cases were found."

	// Apology is shown to users in place of advice that could not be generated.
	Apology = "Sorry, an error occurred while generating AI advice."

	neighbors    = 5
	contextCases = 3
	contentRunes = 500
)

// ErrNoAdvice is returned when the model produced nothing usable.
var ErrNoAdvice = errors.New("no advice generated")

var tracer = otel.Tracer("remindmine.advice")

// Searcher finds indexed chunks similar to a query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, excludeID *int) ([]retrieval.Result, error)
}

// Config tunes a Synthesizer.
type Config struct {
	// Signature starts every advice text so later polls can recognize it.
	Signature string

	// TrackerURL is substituted for {{REDMINE_URL}}.
	TrackerURL string

	// Templates supplies the prompt. Nil uses the built-in prompt.
	Templates *Templates
}

// Synthesizer drafts advice with retrieval-augmented completion.
type Synthesizer struct {
	searcher  Searcher
	completer llm.Completer
	templates *Templates
	header    string
	url       string
	logger    *zap.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(searcher Searcher, completer llm.Completer, cfg Config, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Signature == "" {
		cfg.Signature = DefaultSignature
	}
	if cfg.Templates == nil {
		cfg.Templates = NewTemplates("", logger)
	}
	return &Synthesizer{
		searcher:  searcher,
		completer: completer,
		templates: cfg.Templates,
		header:    Header(cfg.Signature),
		url:       cfg.TrackerURL,
		logger:    logger,
	}
}

// Header is the first line of advice signed with signature.
func Header(signature string) string {
	return signature + ":"
}

// Generate drafts advice for item. The result starts with the signature
// header. Provider failures and empty completions wrap ErrNoAdvice.
func (s *Synthesizer) Generate(ctx context.Context, item tracker.Item) (string, error) {
	ctx, span := tracer.Start(ctx, "Synthesizer.Generate")
	defer span.End()
	span.SetAttributes(attribute.Int("issue_id", item.ID))

	description := normalize.Text(item)
	id := item.ID
	similar, _ := s.searcher.Search(ctx, description, neighbors, &id)
	span.SetAttributes(attribute.Int("neighbors", len(similar)))

	prompt := Render(s.templates.Current(), description, BuildContext(similar), s.url)
	text, err := s.completer.Complete(ctx, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = llm.ErrEmptyCompletion
	}
	if err != nil {
		s.logger.Error("advice generation failed", zap.Int("issue_id", item.ID), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w for issue %d: %v", ErrNoAdvice, item.ID, err)
	}

	s.logger.Info("generated advice",
		zap.Int("issue_id", item.ID),
		zap.Int("neighbors", len(similar)),
	)
	span.SetStatus(codes.Ok, "success")
	return s.header + "\n\n" + strings.TrimSpace(text), nil
}

// BuildContext renders up to three similar chunks as prompt context.
func BuildContext(similar []retrieval.Result) string {
	if len(similar) == 0 {
		return NoRelatedCases
	}
	if len(similar) > contextCases {
		similar = similar[:contextCases]
	}

	var b strings.Builder
	b.WriteString("Related past cases:\n")
	for i, r := range similar {
		fmt.Fprintf(&b, "\nCase %d (similarity: %.2f):\n", i+1, r.Similarity)
		b.WriteString("Issue ID: " + strconv.Itoa(r.ItemID) + "\n")
		b.WriteString("Subject: " + r.Metadata[indexer.MetaSubject] + "\n")
		b.WriteString("Content: " + truncateRunes(r.Text, contentRunes) + "...\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
