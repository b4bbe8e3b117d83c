// Package normalize turns tracker items into the canonical text that is
// chunked, embedded and fingerprinted.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/kkzk/remindmine/internal/tracker"
)

// Field labels, in output order. They are part of the fingerprinted text,
// so changing one invalidates every stored content hash.
const (
	LabelSubject     = "件名"
	LabelDescription = "説明"
	LabelStatus      = "ステータス"
	LabelPriority    = "優先度"
	LabelTracker     = "トラッカー"
	LabelComment     = "コメント"
)

// Text builds the canonical text of an item. Present fields are emitted as
// "Label: value" lines in a fixed order, followed by one comment line per
// non-empty journal note.
func Text(item tracker.Item) string {
	var lines []string
	add := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		lines = append(lines, label+": "+value)
	}

	add(LabelSubject, item.Subject)
	add(LabelDescription, item.Description)
	add(LabelStatus, item.Status)
	add(LabelPriority, item.Priority)
	add(LabelTracker, item.Tracker)
	for _, j := range item.Journals {
		add(LabelComment, j.Notes)
	}
	return strings.Join(lines, "\n")
}

// Fingerprint returns the lowercase hex SHA-256 of text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ItemFingerprint is Fingerprint(Text(item)).
func ItemFingerprint(item tracker.Item) string {
	return Fingerprint(Text(item))
}
