package hub

import (
	"fmt"
	"sync"

	"a2csmcp/pkg/smcp"
)

// Session is the per-connection record owned by the Hub. Role and Name are
// empty until the first successful join; Role is immutable afterwards.
type Session struct {
	SID      string
	Role     string
	Name     string
	OfficeID string

	joinSeq uint64
}

// nameKey is the uniqueness scope of an active name: agent names are unique
// across the namespace, computer names are unique within their office.
func nameKey(role, officeID, name string) string {
	if role == smcp.RoleAgent {
		return fmt.Sprintf("agent:%s", name)
	}
	return fmt.Sprintf("computer:%s:%s", officeID, name)
}

// registry tracks sessions and active name claims.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	names    map[string]string // nameKey -> sid
	seq      uint64
}

func newRegistry() *registry {
	return &registry{
		sessions: make(map[string]*Session),
		names:    make(map[string]string),
	}
}

func (r *registry) add(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &Session{SID: sid}
}

func (r *registry) get(sid string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sid]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// remove forgets the session and releases its name claim, returning the
// final snapshot.
func (r *registry) remove(sid string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	if !ok {
		return Session{}, false
	}
	if s.Name != "" {
		key := nameKey(s.Role, s.OfficeID, s.Name)
		if r.names[key] == sid {
			delete(r.names, key)
		}
	}
	delete(r.sessions, sid)
	return *s, true
}

// joinOutcome is what a successful join leaves for the Hub to broadcast.
type joinOutcome struct {
	// idempotent marks a computer re-joining its current office under its
	// current name; nothing changed and nothing is broadcast.
	idempotent bool
	// left is the pre-switch snapshot when a computer changed offices, so
	// the old office gets its leave notification first.
	left *Session
	// session is the post-join snapshot.
	session Session
}

// join applies the full join rule set and records membership under one lock
// acquisition, so two concurrent joins can never both pass the checks. Rule
// order: role immutability, agent single-office and one-agent-per-office,
// computer name uniqueness with idempotent same-sid rejoin and
// leave-old-office-first switching, then the name claim.
func (r *registry) join(sid, role, name, officeID string) (joinOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sid]
	if !ok {
		return joinOutcome{}, fmt.Errorf("unknown session")
	}
	if s.Role != "" && s.Role != role {
		return joinOutcome{}, fmt.Errorf("Role mismatch")
	}

	var outcome joinOutcome
	switch role {
	case smcp.RoleAgent:
		if s.OfficeID != "" && s.OfficeID != officeID {
			return joinOutcome{}, fmt.Errorf("agent is already in office %s", s.OfficeID)
		}
		for _, other := range r.sessions {
			if other.SID != sid && other.Role == smcp.RoleAgent && other.OfficeID == officeID {
				return joinOutcome{}, fmt.Errorf("office %s already has an agent", officeID)
			}
		}

	case smcp.RoleComputer:
		if holder, taken := r.names[nameKey(role, officeID, name)]; taken {
			if holder == sid {
				outcome.idempotent = true
				outcome.session = *s
				return outcome, nil
			}
			return joinOutcome{}, fmt.Errorf("%s already exists in %s", name, officeID)
		}
		if s.OfficeID != "" && s.OfficeID != officeID {
			prev := *s
			outcome.left = &prev
		}
	}

	key := nameKey(role, officeID, name)
	if holder, taken := r.names[key]; taken && holder != sid {
		return joinOutcome{}, fmt.Errorf("%s already exists in %s", name, officeID)
	}

	// Release the claim from a previous membership before taking the new one.
	if s.Name != "" {
		oldKey := nameKey(s.Role, s.OfficeID, s.Name)
		if oldKey != key && r.names[oldKey] == sid {
			delete(r.names, oldKey)
		}
	}
	r.names[key] = sid

	s.Role = role
	s.Name = name
	s.OfficeID = officeID
	r.seq++
	s.joinSeq = r.seq

	outcome.session = *s
	return outcome, nil
}

func (r *registry) releaseName(key, sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names[key] == sid {
		delete(r.names, key)
	}
}

// clearOffice records a leave; role and name survive for the next join.
func (r *registry) clearOffice(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sid]; ok {
		s.OfficeID = ""
	}
}

// inOffice returns the office's members ordered by join sequence.
func (r *registry) inOffice(officeID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var members []Session
	for _, s := range r.sessions {
		if s.OfficeID == officeID && officeID != "" {
			members = append(members, *s)
		}
	}
	for i := 1; i < len(members); i++ {
		for j := i; j > 0 && members[j].joinSeq < members[j-1].joinSeq; j-- {
			members[j], members[j-1] = members[j-1], members[j]
		}
	}
	return members
}

// computerIn returns the named computer session in the office, if any.
func (r *registry) computerIn(officeID, name string) (Session, bool) {
	for _, s := range r.inOffice(officeID) {
		if s.Role == smcp.RoleComputer && s.Name == name {
			return s, true
		}
	}
	return Session{}, false
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *registry) stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{Total: len(r.sessions)}
	for _, session := range r.sessions {
		switch session.Role {
		case smcp.RoleAgent:
			s.Agents++
		case smcp.RoleComputer:
			s.Computers++
		}
	}
	return s
}
