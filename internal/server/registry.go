package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fileexchange/internal/logger"
)

// SessionInfo is a point-in-time view of one registry member.
type SessionInfo struct {
	ID     uuid.UUID
	Alias  string
	State  State
	Addr   string
	Joined time.Time
}

// Registry is the set of connected sessions and the single owner of alias
// uniqueness. One mutex covers membership, the alias index and broadcast
// iteration, so every recipient sees broadcasts in the order they were
// processed here.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	order    []uuid.UUID
	aliases  map[string]uuid.UUID
	seq      int
	log      *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Discard()
	}
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		aliases:  make(map[string]uuid.UUID),
		log:      log,
	}
}

// Add admits s under a fresh default alias of the form User<n> and returns it.
// With limit > 0, a registry already holding limit sessions refuses with
// ErrServerFull.
func (r *Registry) Add(s *Session, limit int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.id]; ok {
		return s.alias, nil
	}
	if limit > 0 && len(r.sessions) >= limit {
		return "", ErrServerFull
	}

	var alias string
	for {
		r.seq++
		alias = fmt.Sprintf("User%d", r.seq)
		if _, taken := r.aliases[alias]; !taken {
			break
		}
	}

	s.alias = alias
	r.sessions[s.id] = s
	r.order = append(r.order, s.id)
	r.aliases[alias] = s.id
	return alias, nil
}

// Remove drops s and frees its alias. It reports whether s was a member, so
// only the first of several removals does anything.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.id]; !ok {
		return false
	}
	delete(r.sessions, s.id)
	if owner, ok := r.aliases[s.alias]; ok && owner == s.id {
		delete(r.aliases, s.alias)
	}
	for i, id := range r.order {
		if id == s.id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Claim gives alias to s if no member holds it, checking and updating under
// one lock. On success s becomes Registered and the previous alias is
// returned. On failure s is left untouched.
func (r *Registry) Claim(s *Session, alias string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.id]; !ok {
		return "", fmt.Errorf("%w: session is no longer connected", ErrTransport)
	}
	if _, taken := r.aliases[alias]; taken {
		return "", ErrAliasTaken
	}

	old := s.alias
	delete(r.aliases, old)
	r.aliases[alias] = s.id
	s.alias = alias
	s.setState(StateRegistered)
	return old, nil
}

func (r *Registry) FindByAlias(alias string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.aliases[alias]
	if !ok {
		return nil, false
	}
	return r.sessions[id], true
}

func (r *Registry) AliasExists(alias string) bool {
	_, ok := r.FindByAlias(alias)
	return ok
}

// Broadcast queues msg for every member and returns how many accepted it.
func (r *Registry) Broadcast(msg Message) int {
	return r.BroadcastExcept(msg, nil)
}

// BroadcastExcept queues msg for every member other than except. A member
// whose queue is full is disconnected; delivery to the rest continues.
func (r *Registry) BroadcastExcept(msg Message, except *Session) int {
	line := msg.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for _, id := range r.order {
		s := r.sessions[id]
		if s == except {
			continue
		}
		if r.deliver(s, line) {
			delivered++
		}
	}
	return delivered
}

// Unicast queues msg for the member holding alias only.
func (r *Registry) Unicast(alias string, msg Message) error {
	line := msg.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.aliases[alias]
	if !ok {
		return ErrAliasNotFound
	}
	if !r.deliver(r.sessions[id], line) {
		return fmt.Errorf("%w: %s is not accepting messages", ErrAliasNotFound, alias)
	}
	return nil
}

// deliver must be called with r.mu held.
func (r *Registry) deliver(s *Session, line string) bool {
	switch err := s.enqueue(line); err {
	case nil:
		return true
	case errQueueFull:
		r.log.Warn("outbound queue full for %s, disconnecting", s.alias)
		s.Close()
	}
	return false
}

// Snapshot lists members in join order.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(r.order))
	for _, id := range r.order {
		s := r.sessions[id]
		infos = append(infos, SessionInfo{
			ID:     s.id,
			Alias:  s.alias,
			State:  s.State(),
			Addr:   s.addr,
			Joined: s.joined,
		})
	}
	return infos
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll disconnects every member and returns how many there were. Members
// stay in the registry until their own goroutines remove them.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	members := make([]*Session, 0, len(r.sessions))
	for _, id := range r.order {
		members = append(members, r.sessions[id])
	}
	r.mu.Unlock()

	for _, s := range members {
		s.Close()
	}
	return len(members)
}
