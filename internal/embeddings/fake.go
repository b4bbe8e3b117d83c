package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// Fake is a deterministic in-process Provider. Each word is hashed into a
// bucket of a bag-of-words vector which is then L2-normalized, so texts
// sharing words are close under cosine distance.
type Fake struct {
	Model string
	Dim   int

	mu sync.Mutex
	// Err, when set, is returned by every call.
	Err error
	// DropLast makes EmbedDocuments return one vector fewer than requested.
	DropLast bool
	// Calls counts EmbedDocuments and EmbedQuery invocations.
	Calls int
	// Embedded counts texts passed to EmbedDocuments.
	Embedded int
}

// NewFake returns a Fake with the given model id and dimension.
func NewFake(model string, dim int) *Fake {
	return &Fake{Model: model, Dim: dim}
}

// SetErr sets the error returned by subsequent calls.
func (f *Fake) SetErr(err error) {
	f.mu.Lock()
	f.Err = err
	f.mu.Unlock()
}

// Stats returns the call and embedded-text counters.
func (f *Fake) Stats() (calls, embedded int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls, f.Embedded
}

func (f *Fake) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	f.Embedded += len(texts)

	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, f.vector(t))
	}
	if f.DropLast {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *Fake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	return f.vector(text), nil
}

func (f *Fake) ModelID() string { return f.Model }

func (f *Fake) Dimension() int { return f.Dim }

func (f *Fake) Close() error { return nil }

func (f *Fake) vector(text string) []float32 {
	vec := make([]float32, f.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(f.Dim)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
