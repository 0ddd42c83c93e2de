package server

import (
	"slices"
	"sync"
)

// SessionRegistry tracks which users have live connections. A user stays
// online while at least one of their connections is registered.
type SessionRegistry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{}
	byConn map[string]string
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byUser: make(map[string]map[string]struct{}),
		byConn: make(map[string]string),
	}
}

// Register records connId for userId and reports whether it is the user's
// first live connection.
func (sr *SessionRegistry) Register(connId, userId string) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if prev, ok := sr.byConn[connId]; ok {
		if prev == userId {
			return false
		}
		sr.removeLocked(connId, prev)
	}

	conns, ok := sr.byUser[userId]
	if !ok {
		conns = make(map[string]struct{})
		sr.byUser[userId] = conns
	}
	first := len(conns) == 0
	conns[connId] = struct{}{}
	sr.byConn[connId] = userId

	return first
}

// Unregister forgets connId. last is true when the user has no remaining
// connections. Unknown connections are ignored.
func (sr *SessionRegistry) Unregister(connId string) (userId string, last bool, ok bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	userId, ok = sr.byConn[connId]
	if !ok {
		return "", false, false
	}

	last = sr.removeLocked(connId, userId)
	return userId, last, true
}

func (sr *SessionRegistry) removeLocked(connId, userId string) bool {
	delete(sr.byConn, connId)
	conns := sr.byUser[userId]
	delete(conns, connId)
	if len(conns) == 0 {
		delete(sr.byUser, userId)
		return true
	}
	return false
}

func (sr *SessionRegistry) IsOnline(userId string) bool {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	_, ok := sr.byUser[userId]
	return ok
}

func (sr *SessionRegistry) OnlineCount() int {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.byUser)
}

// ListOnline returns the online user ids in ascending order.
func (sr *SessionRegistry) ListOnline() []string {
	sr.mu.RLock()
	users := make([]string, 0, len(sr.byUser))
	for u := range sr.byUser {
		users = append(users, u)
	}
	sr.mu.RUnlock()

	slices.Sort(users)
	return users
}

func (sr *SessionRegistry) ConnectionCount(userId string) int {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.byUser[userId])
}
