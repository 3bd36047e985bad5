package judgewire

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/tai64n"
)

// Session binds a node identity to the key negotiated at handshake time. It is
// owned by the connection that produced it.
type Session struct {
	NodeID       uuid.UUID
	Key          SessionKey
	ClientPubkey PublicKey
	Established  tai64n.Timestamp

	lastActive time.Time
}

// SessionLookup resolves node identifiers to live sessions.
type SessionLookup interface {
	Lookup(nodeID uuid.UUID) (*Session, bool)
}

// SessionTable holds every live session of a worker. It is shared by all
// connections and passed to them explicitly.
type SessionTable struct {
	sessions      map[uuid.UUID]*Session
	sessionsMutex sync.RWMutex

	// Statistics (only counts, no identifying information)
	stats struct {
		sessionsCreated uint64
		sessionsClosed  uint64
	}
}

// NewSessionTable creates an empty session table
func NewSessionTable() *SessionTable {
	return &SessionTable{
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Insert publishes a fully initialised session. The session must not be
// modified by the caller afterwards.
func (st *SessionTable) Insert(s *Session) error {
	st.sessionsMutex.Lock()
	defer st.sessionsMutex.Unlock()

	if _, exists := st.sessions[s.NodeID]; exists {
		return fmt.Errorf("session already exists: %s", s.NodeID)
	}

	s.lastActive = Now()
	st.sessions[s.NodeID] = s
	st.stats.sessionsCreated++

	return nil
}

// Lookup returns the session for nodeID and marks it active.
func (st *SessionTable) Lookup(nodeID uuid.UUID) (*Session, bool) {
	st.sessionsMutex.RLock()
	s, exists := st.sessions[nodeID]
	st.sessionsMutex.RUnlock()

	if !exists {
		return nil, false
	}

	st.sessionsMutex.Lock()
	s.lastActive = Now()
	st.sessionsMutex.Unlock()

	return s, true
}

// Remove deletes the session; called when its connection closes.
func (st *SessionTable) Remove(nodeID uuid.UUID) bool {
	st.sessionsMutex.Lock()
	defer st.sessionsMutex.Unlock()

	if _, exists := st.sessions[nodeID]; !exists {
		return false
	}

	delete(st.sessions, nodeID)
	st.stats.sessionsClosed++

	return true
}

// Count returns the number of live sessions
func (st *SessionTable) Count() int {
	st.sessionsMutex.RLock()
	defer st.sessionsMutex.RUnlock()

	return len(st.sessions)
}

// SessionInfo is the sanitized view of a session used for stats reporting.
type SessionInfo struct {
	NodeID      string `json:"node_id"`
	Established string `json:"established"`
	LastActive  int64  `json:"last_active"`
}

// Dump returns basic information about all sessions. Keys are never included.
func (st *SessionTable) Dump() []SessionInfo {
	st.sessionsMutex.RLock()
	defer st.sessionsMutex.RUnlock()

	result := make([]SessionInfo, 0, len(st.sessions))
	for id, s := range st.sessions {
		result = append(result, SessionInfo{
			NodeID:      id.String(),
			Established: fmt.Sprintf("%x", s.Established[:]),
			LastActive:  s.lastActive.UnixMilli(),
		})
	}

	return result
}

// Created returns the number of sessions inserted since start.
func (st *SessionTable) Created() uint64 {
	st.sessionsMutex.RLock()
	defer st.sessionsMutex.RUnlock()

	return st.stats.sessionsCreated
}

// Close drops every session.
func (st *SessionTable) Close() error {
	st.sessionsMutex.Lock()
	defer st.sessionsMutex.Unlock()

	for id := range st.sessions {
		delete(st.sessions, id)
		st.stats.sessionsClosed++
	}

	return nil
}
