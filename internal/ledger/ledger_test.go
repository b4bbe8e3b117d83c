package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/kkzk/remindmine/internal/logging"
	"github.com/kkzk/remindmine/internal/tracker"
)

func itemURL(id int) string { return fmt.Sprintf("http://redmine.test/issues/%d", id) }

func newLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pending_advice.json")
	return Open(path, itemURL, nil), path
}

func TestAdd_FillsRecord(t *testing.T) {
	l, _ := newLedger(t)
	fixed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	id, err := l.Add(tracker.Item{ID: 42, Subject: "VPN drops", Tracker: "Bug", Project: "IT"}, "AI advice:\n\nrestart the client")
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	e, err := l.Get("42")
	require.NoError(t, err)
	assert.Equal(t, 42, e.IssueID)
	assert.Equal(t, "VPN drops", e.IssueSubject)
	assert.Equal(t, "No description", e.IssueDescription)
	assert.Equal(t, "http://redmine.test/issues/42", e.IssueURL)
	assert.Equal(t, "IT", e.ProjectName)
	assert.Equal(t, "Bug", e.TrackerName)
	assert.Equal(t, "Unknown", e.PriorityName)
	assert.Equal(t, "Unknown", e.StatusName)
	assert.Equal(t, fixed, e.CreatedAt)
}

func TestAdd_ReplacesSameItem(t *testing.T) {
	l, _ := newLedger(t)
	_, err := l.Add(tracker.Item{ID: 1}, "first")
	require.NoError(t, err)
	_, err = l.Add(tracker.Item{ID: 1}, "second")
	require.NoError(t, err)

	assert.Equal(t, 1, l.Len())
	e, err := l.Get("1")
	require.NoError(t, err)
	assert.Equal(t, "second", e.AdviceContent)
}

func TestAdd_RejectsInvalidItem(t *testing.T) {
	l, _ := newLedger(t)
	_, err := l.Add(tracker.Item{ID: 0}, "x")
	assert.ErrorIs(t, err, tracker.ErrInvalidItem)
	assert.Equal(t, 0, l.Len())
}

func TestGetAll_NewestFirst(t *testing.T) {
	l, _ := newLedger(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []int{3, 1, 2} {
		at := base.Add(time.Duration(i) * time.Minute)
		l.now = func() time.Time { return at }
		_, err := l.Add(tracker.Item{ID: id}, "advice")
		require.NoError(t, err)
	}

	all := l.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, []int{2, 1, 3}, []int{all[0].IssueID, all[1].IssueID, all[2].IssueID})
}

func TestApproveRejectClear(t *testing.T) {
	l, _ := newLedger(t)
	for _, id := range []int{1, 2, 3} {
		_, err := l.Add(tracker.Item{ID: id}, "advice")
		require.NoError(t, err)
	}

	e, err := l.Approve("1")
	require.NoError(t, err)
	assert.Equal(t, 1, e.IssueID)
	_, err = l.Get("1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.Reject("2")
	require.NoError(t, err)
	_, err = l.Reject("2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.Approve("99")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := l.ClearAll()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, l.GetAll())
}

func TestPersistence(t *testing.T) {
	l, path := newLedger(t)
	_, err := l.Add(tracker.Item{ID: 7, Subject: "disk full"}, "advice 7")
	require.NoError(t, err)
	_, err = l.Add(tracker.Item{ID: 8}, "advice 8")
	require.NoError(t, err)
	_, err = l.Reject("8")
	require.NoError(t, err)

	reopened := Open(path, itemURL, nil)
	require.Equal(t, 1, reopened.Len())
	e, err := reopened.Get("7")
	require.NoError(t, err)
	assert.Equal(t, "disk full", e.IssueSubject)
	assert.Equal(t, "advice 7", e.AdviceContent)
}

func TestOpen_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending_advice.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	tl := logging.NewTestLogger()
	l := Open(path, nil, tl.Underlying())
	assert.Equal(t, 0, l.Len())
	tl.AssertLogged(t, zapcore.WarnLevel, "pending advice unreadable")

	_, err := l.Add(tracker.Item{ID: 5}, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, Open(path, nil, nil).Len())
}
