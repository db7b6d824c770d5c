package app

import (
	"slices"
	"sync"

	"github.com/zjregee/threadchat/internal/models"
)

type Status int

const (
	StatusInit Status = iota
	StatusLoaded
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "INIT"
	case StatusLoaded:
		return "LOADED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// State is a copy of the session taken by Snapshot. Mutating it does not
// affect the session.
type State struct {
	Status      Status
	Summaries   []*models.ThreadSummary
	ActiveID    string
	Turns       []*models.Turn
	Draft       bool
	Loading     bool
	ReplyFailed bool
	Err         error
}

// Session is the client-side cache of the thread list and the active
// thread. It is never the source of truth.
type Session struct {
	mu         sync.RWMutex
	state      State
	generation uint64
	// switching is the thread a pending switch will make active.
	switching string
}

func NewSession(draftID string) *Session {
	return &Session{
		state: State{
			Status:    StatusInit,
			Summaries: []*models.ThreadSummary{},
			ActiveID:  draftID,
			Turns:     []*models.Turn{},
			Draft:     true,
		},
	}
}

func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state
	snapshot.Summaries = cloneSummaries(s.state.Summaries)
	snapshot.Turns = models.CloneTurns(s.state.Turns)
	return snapshot
}

func (s *Session) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ActiveID
}

// current returns the active id together with the generation a response
// for it must still match to be committed.
func (s *Session) current() (string, bool, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ActiveID, s.state.Draft, s.generation
}

// setSummaries moves INIT and ERROR to LOADED.
func (s *Session) setSummaries(summaries []*models.ThreadSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Summaries = cloneSummaries(summaries)
	s.state.Status = StatusLoaded
}

// summariesFailed keeps the cached list. Only a session that never loaded
// moves to ERROR.
func (s *Session) summariesFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status == StatusInit {
		s.state.Status = StatusError
	}
	s.state.Err = err
}

func (s *Session) removeSummary(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Summaries = slices.DeleteFunc(s.state.Summaries, func(summary *models.ThreadSummary) bool {
		return summary.ThreadID == id
	})
}

func (s *Session) startNewChat(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.switching = ""
	s.state.ActiveID = id
	s.state.Turns = []*models.Turn{}
	s.state.Draft = true
	s.state.Loading = false
	s.state.ReplyFailed = false
	s.state.Err = nil
}

// beginSwitch invalidates every response issued before it.
func (s *Session) beginSwitch(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.switching = id
	s.state.Loading = true
	return s.generation
}

// beginRequest marks the session busy without invalidating earlier requests.
// It refuses while a switch is pending, since the active id is about to
// change under the request.
func (s *Session) beginRequest(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.switching != "" {
		return false
	}
	s.state.Loading = true
	return true
}

// commitSwitch makes id the active thread when gen is still current.
func (s *Session) commitSwitch(gen uint64, id string, turns []*models.Turn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.switching != id {
		return false
	}
	s.switching = ""
	s.state.ActiveID = id
	s.replaceTurns(turns, false)
	return true
}

// commitTurns replaces the turns of the active thread wholesale when gen is
// still current and id is still active, and reports whether it did.
func (s *Session) commitTurns(gen uint64, id string, turns []*models.Turn, replyFailed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.switching != "" || id != s.state.ActiveID {
		return false
	}
	s.replaceTurns(turns, replyFailed)
	return true
}

func (s *Session) replaceTurns(turns []*models.Turn, replyFailed bool) {
	s.state.Turns = models.CloneTurns(turns)
	s.state.Draft = false
	s.state.Loading = false
	s.state.ReplyFailed = replyFailed
	s.state.Err = nil
}

// fail surfaces err and leaves the cached thread as it was.
func (s *Session) fail(gen uint64, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return false
	}

	s.switching = ""
	s.state.Loading = false
	s.state.Err = err
	return true
}

func (s *Session) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Err = err
}

func cloneSummaries(summaries []*models.ThreadSummary) []*models.ThreadSummary {
	cloned := make([]*models.ThreadSummary, 0, len(summaries))
	for _, summary := range summaries {
		if summary == nil {
			continue
		}
		copied := *summary
		cloned = append(cloned, &copied)
	}
	return cloned
}
