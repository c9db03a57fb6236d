package gatekeeper

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// SessionKey identifies one member's challenge in one group.
type SessionKey struct {
	MemberID int64
	GroupID  int64
}

// Session is one pending challenge. It is immutable once stored.
type Session struct {
	Key       SessionKey
	Code      string
	CreatedAt time.Time
	Deadline  time.Time
	timer     *clock.Timer
}

// cancel stops the deadline timer. A timer that already fired keeps running
// its flow; that flow then loses the removal race and does nothing.
func (s *Session) cancel() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

// SessionView is a read-only snapshot entry for status reporting.
type SessionView struct {
	MemberID  int64     `json:"member_id"`
	GroupID   int64     `json:"group_id"`
	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
}

// SessionTable holds at most one session per key. Every removal happens under
// the table lock, so the code-match and deadline flows cannot both win.
type SessionTable struct {
	mu       sync.Mutex
	sessions map[SessionKey]*Session
}

func NewSessionTable() *SessionTable {
	return &SessionTable{
		sessions: make(map[SessionKey]*Session),
	}
}

// Put stores s and returns the session it replaced, if any.
func (t *SessionTable) Put(s *Session) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.sessions[s.Key]
	t.sessions[s.Key] = s
	return prev
}

// Get returns the current session for key.
func (t *SessionTable) Get(key SessionKey) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[key]
	return s, ok
}

// TakeIfCode removes and returns the session for key when code matches exactly.
func (t *SessionTable) TakeIfCode(key SessionKey, code string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[key]
	if !ok || s.Code != code {
		return nil, false
	}
	delete(t.sessions, key)
	return s, true
}

// Take removes s only if it is still the current session for its key.
func (t *SessionTable) Take(s *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.sessions[s.Key]
	if !ok || cur != s {
		return false
	}
	delete(t.sessions, s.Key)
	return true
}

// Drain removes and returns every session.
func (t *SessionTable) Drain() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Session, 0, len(t.sessions))
	for key, s := range t.sessions {
		out = append(out, s)
		delete(t.sessions, key)
	}
	return out
}

func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Snapshot lists sessions ordered by deadline.
func (t *SessionTable) Snapshot() []SessionView {
	t.mu.Lock()
	out := make([]SessionView, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, SessionView{
			MemberID:  s.Key.MemberID,
			GroupID:   s.Key.GroupID,
			CreatedAt: s.CreatedAt,
			Deadline:  s.Deadline,
		})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].MemberID < out[j].MemberID
		}
		return out[i].Deadline.Before(out[j].Deadline)
	})
	return out
}
