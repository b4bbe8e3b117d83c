package scheduler

import "sync/atomic"

// Settings holds options that can change while the scheduler runs.
type Settings struct {
	autoAdvice atomic.Bool
}

// NewSettings returns Settings with auto-advice set to autoAdvice.
func NewSettings(autoAdvice bool) *Settings {
	s := &Settings{}
	s.autoAdvice.Store(autoAdvice)
	return s
}

// AutoAdvice reports whether new items get advice drafted automatically.
func (s *Settings) AutoAdvice() bool { return s.autoAdvice.Load() }

// SetAutoAdvice turns automatic advice on or off.
func (s *Settings) SetAutoAdvice(enabled bool) { s.autoAdvice.Store(enabled) }
