package omemodr

import (
	"bytes"
)

// maxArchivedStates is how many superseded sessions stay decryptable.
const maxArchivedStates = 40

// SessionRecord holds the current session with a peer device and a bounded
// archive of previous ones, most recent first.
type SessionRecord struct {
	current  *SessionState
	previous []*SessionState
	fresh    bool
}

// NewSessionRecord returns an empty record.
func NewSessionRecord() *SessionRecord {
	return &SessionRecord{
		current: &SessionState{},
		fresh:   true,
	}
}

// SessionState returns the current state.
func (r *SessionRecord) SessionState() *SessionState {
	return r.current
}

// PreviousStates returns the archived states, most recent first.
func (r *SessionRecord) PreviousStates() []*SessionState {
	return r.previous
}

// IsFresh reports whether the record was never populated.
func (r *SessionRecord) IsFresh() bool {
	return r.fresh
}

// HasSessionState reports whether any state, current or archived, was set up
// with the given version and initiator base key.
func (r *SessionRecord) HasSessionState(version uint32, aliceBaseKey []byte) bool {
	if r.current.version == version && bytes.Equal(r.current.aliceBaseKey, aliceBaseKey) {
		return true
	}
	for _, s := range r.previous {
		if s.version == version && bytes.Equal(s.aliceBaseKey, aliceBaseKey) {
			return true
		}
	}
	return false
}

// ArchiveCurrentState moves the current state to the front of the archive
// and starts over with a blank one.
func (r *SessionRecord) ArchiveCurrentState() {
	r.PromoteState(&SessionState{})
}

// PromoteState makes state current and archives the old current state.
func (r *SessionRecord) PromoteState(state *SessionState) {
	r.previous = append([]*SessionState{r.current}, r.previous...)
	r.current = state
	r.fresh = false
	if len(r.previous) > maxArchivedStates {
		r.previous = r.previous[:maxArchivedStates]
	}
}

// SetState replaces the current state.
func (r *SessionRecord) SetState(state *SessionState) {
	r.current = state
	r.fresh = false
}

// removePrevious drops the archived state at index i.
func (r *SessionRecord) removePrevious(i int) {
	r.previous = append(r.previous[:i:i], r.previous[i+1:]...)
}
