package participant

import (
	"reflect"
	"sync"

	"github.com/victornm/livequiz/internal/domain"
)

// Change describes what an applied snapshot changed in a view.
type Change struct {
	Changed         bool
	StatusChanged   bool
	QuestionChanged bool
}

// View is a participant's local copy of a session. The last pushed snapshot always replaces it
// wholesale; local optimistic edits only live until the next push.
type View struct {
	mu      sync.RWMutex
	session *domain.GameSession
}

// Apply overwrites the view with a snapshot. Applying the snapshot already held is a no-op.
func (v *View) Apply(ss *domain.GameSession) Change {
	v.mu.Lock()
	defer v.mu.Unlock()

	prev := v.session
	if prev != nil && reflect.DeepEqual(prev, ss) {
		return Change{}
	}

	v.session = ss.Clone()

	if prev == nil {
		return Change{Changed: true, StatusChanged: true, QuestionChanged: true}
	}

	return Change{
		Changed:         true,
		StatusChanged:   prev.Status != ss.Status,
		QuestionChanged: prev.CurrentQuestionIndex != ss.CurrentQuestionIndex,
	}
}

// Session returns a copy of the current view, or nil before the first snapshot.
func (v *View) Session() *domain.GameSession {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.session == nil {
		return nil
	}
	return v.session.Clone()
}

// edit applies a local optimistic change.
func (v *View) edit(fn func(ss *domain.GameSession)) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.session != nil {
		fn(v.session)
	}
}
