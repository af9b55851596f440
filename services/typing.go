package services

import (
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"
	"messaging-core/observability"
	"sort"
	"sync"
	"time"
)

const DefaultTypingExpiry = 2 * time.Second

type ITypingManager interface {
	Start(conversationID, userID string, origin contract.Actor)
	Stop(conversationID, userID string, origin contract.Actor) bool
	Active(conversationID string) []string
	Sweep(now time.Time) int
}

// TypingManager keeps who is typing where, in memory only.
// An entry lives until an explicit stop or until its expiry passes,
// whichever comes first; expiry synthesizes the missing typing:stop.
type TypingManager struct {
	mu       sync.Mutex
	typing   map[string]map[string]time.Time // conversation -> user -> expiry
	registry contract.IRegistry
	clock    contract.Clock
	expiry   time.Duration
	metrics  *observability.Metrics
	log      *slog.Logger
}

var _ ITypingManager = (*TypingManager)(nil)

func NewTypingManager(log *slog.Logger, registry contract.IRegistry, metrics *observability.Metrics, clock contract.Clock, expiry time.Duration) *TypingManager {
	if clock == nil {
		clock = time.Now
	}
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &TypingManager{
		typing:   make(map[string]map[string]time.Time),
		registry: registry,
		clock:    clock,
		expiry:   expiry,
		metrics:  metrics,
		log:      log,
	}
}

// Start inserts or refreshes the entry and tells the room, minus the typer's own connection.
func (m *TypingManager) Start(conversationID, userID string, origin contract.Actor) {
	m.mu.Lock()
	users, ok := m.typing[conversationID]
	if !ok {
		users = make(map[string]time.Time)
		m.typing[conversationID] = users
	}
	users[userID] = m.clock().Add(m.expiry)
	m.mu.Unlock()

	m.registry.Broadcast(conversationID, domain.NewTypingFrame(domain.EventTypingStart, conversationID, userID), origin)
}

// Stop removes the entry. A stop for an unknown or already expired entry says nothing.
func (m *TypingManager) Stop(conversationID, userID string, origin contract.Actor) bool {
	m.mu.Lock()
	_, ok := m.typing[conversationID][userID]
	if ok {
		m.remove(conversationID, userID)
	}
	m.mu.Unlock()

	if ok {
		m.registry.Broadcast(conversationID, domain.NewTypingFrame(domain.EventTypingStop, conversationID, userID), origin)
	}
	return ok
}

// Active lists the users still typing in a conversation, ignoring expired entries
// the sweeper has not reached yet.
func (m *TypingManager) Active(conversationID string) []string {
	now := m.clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []string
	for user, expiry := range m.typing[conversationID] {
		if now.Before(expiry) {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users
}

// Sweep drops every entry whose expiry is not after now and sends the
// typing:stop the client never sent to the other participant. It returns the number of expired entries.
func (m *TypingManager) Sweep(now time.Time) int {
	type expired struct{ conversationID, userID string }
	var stale []expired

	m.mu.Lock()
	for conversationID, users := range m.typing {
		for user, expiry := range users {
			if !now.Before(expiry) {
				stale = append(stale, expired{conversationID, user})
			}
		}
	}
	for _, e := range stale {
		m.remove(e.conversationID, e.userID)
	}
	m.mu.Unlock()

	// No origin connection here: every connection of the typer is left out.
	for _, e := range stale {
		frame := domain.NewTypingFrame(domain.EventTypingStop, e.conversationID, e.userID)
		for _, actor := range m.registry.Members(e.conversationID) {
			if actor.UserID() != e.userID {
				_ = actor.Deliver(frame)
			}
		}
	}
	if len(stale) > 0 {
		m.metrics.TypingExpired.Add(float64(len(stale)))
		m.log.Debug("Typing indicators expired", "count", len(stale))
	}
	return len(stale)
}

func (m *TypingManager) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.typing)
}

// remove must be called with mu held.
func (m *TypingManager) remove(conversationID, userID string) {
	users := m.typing[conversationID]
	delete(users, userID)
	if len(users) == 0 {
		delete(m.typing, conversationID)
	}
}
