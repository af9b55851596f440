package runtime

import (
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"
	"sync"
)

// Set indexes live actors by their id.
type Set map[string]contract.Actor

// Registry is the room registry: conversation id -> joined actors, plus
// user id -> connected actors for notifications outside of a room.
// Every lock is scoped to one map operation; delivery happens on a snapshot.
type Registry struct {
	mu          sync.RWMutex
	roomMembers map[string]Set // conversation -> actors
	connections map[string]Set // user -> actors
	log         *slog.Logger
}

var _ contract.IRegistry = (*Registry)(nil)

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		roomMembers: make(map[string]Set),
		connections: make(map[string]Set),
		log:         log,
	}
}

// Connect records a live actor for its user, regardless of joined rooms.
func (r *Registry) Connect(actor contract.Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	add(r.connections, actor.UserID(), actor)
}

// Disconnect forgets the actor everywhere.
func (r *Registry) Disconnect(actor contract.Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	remove(r.connections, actor.UserID(), actor)
	for conversationID := range r.roomMembers {
		remove(r.roomMembers, conversationID, actor)
	}
}

// Join is idempotent and reports whether the actor was newly added.
func (r *Registry) Join(conversationID string, actor contract.Actor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return add(r.roomMembers, conversationID, actor)
}

// Leave is idempotent and reports whether the actor was a member.
// A room left empty is removed entirely.
func (r *Registry) Leave(conversationID string, actor contract.Actor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return remove(r.roomMembers, conversationID, actor)
}

// LeaveAll removes the actor from every room and returns the rooms it had joined.
func (r *Registry) LeaveAll(actor contract.Actor) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var left []string
	for conversationID := range r.roomMembers {
		if remove(r.roomMembers, conversationID, actor) {
			left = append(left, conversationID)
		}
	}
	return left
}

// Members returns a snapshot of the actors joined to the conversation.
func (r *Registry) Members(conversationID string) []contract.Actor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.roomMembers[conversationID], nil)
}

// Broadcast hands the frame to every joined actor but exclude and returns
// how many accepted it. A refusing actor never affects the others.
func (r *Registry) Broadcast(conversationID string, frame domain.Frame, exclude contract.Actor) int {
	r.mu.RLock()
	targets := snapshot(r.roomMembers[conversationID], exclude)
	r.mu.RUnlock()
	return r.deliver(targets, frame, "conversation_id", conversationID)
}

// SendToUser reaches every live connection of the user, joined or not.
func (r *Registry) SendToUser(userID string, frame domain.Frame) int {
	r.mu.RLock()
	targets := snapshot(r.connections[userID], nil)
	r.mu.RUnlock()
	return r.deliver(targets, frame, "user_id", userID)
}

// IsOnline reports whether userID has at least one actor joined to the conversation.
func (r *Registry) IsOnline(conversationID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, actor := range r.roomMembers[conversationID] {
		if actor.UserID() == userID {
			return true
		}
	}
	return false
}

type RegistryStats struct {
	Rooms       int
	Memberships int
	Connections int
}

func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := RegistryStats{Rooms: len(r.roomMembers)}
	for _, members := range r.roomMembers {
		stats.Memberships += len(members)
	}
	for _, actors := range r.connections {
		stats.Connections += len(actors)
	}
	return stats
}

func (r *Registry) deliver(targets []contract.Actor, frame domain.Frame, key, value string) int {
	delivered := 0
	for _, actor := range targets {
		if err := actor.Deliver(frame); err != nil {
			r.log.Warn("Frame not delivered", key, value, "actor_id", actor.ID(), "type", frame.Type, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

func add(index map[string]Set, key string, actor contract.Actor) bool {
	members, ok := index[key]
	if !ok {
		members = make(Set)
		index[key] = members
	}
	if _, exists := members[actor.ID()]; exists {
		return false
	}
	members[actor.ID()] = actor
	return true
}

func remove(index map[string]Set, key string, actor contract.Actor) bool {
	members, ok := index[key]
	if !ok {
		return false
	}
	if _, exists := members[actor.ID()]; !exists {
		return false
	}
	delete(members, actor.ID())
	// If no one is left, remove the entry entirely
	if len(members) == 0 {
		delete(index, key)
	}
	return true
}

func snapshot(members Set, exclude contract.Actor) []contract.Actor {
	if len(members) == 0 {
		return nil
	}
	actors := make([]contract.Actor, 0, len(members))
	for id, actor := range members {
		if exclude != nil && exclude.ID() == id {
			continue
		}
		actors = append(actors, actor)
	}
	return actors
}
