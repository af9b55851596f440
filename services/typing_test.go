package services

import (
	"log/slog"
	"messaging-core/domain"
	"messaging-core/observability"
	"messaging-core/runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTypingFixture() (*TypingManager, *runtime.Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	registry := runtime.NewRegistry(slog.Default())
	return NewTypingManager(slog.Default(), registry, observability.NewMetrics(), clock.Now, 0), registry, clock
}

func TestTypingManager_Start_Excludes_Typer(t *testing.T) {
	req := require.New(t)
	manager, registry, _ := newTypingFixture()
	alice, bob := newRecordingActor("alice"), newRecordingActor("bob")
	registry.Join("c1", alice)
	registry.Join("c1", bob)

	// When alice starts typing
	manager.Start("c1", "alice", alice)

	// Then only bob is told
	req.Empty(alice.Frames(domain.EventTypingStart))
	frames := bob.Frames(domain.EventTypingStart)
	req.Len(frames, 1)
	req.Equal(domain.TypingPayload{ConversationID: "c1", UserID: "alice"}, frames[0].Payload)
	req.Equal([]string{"alice"}, manager.Active("c1"))
}

func TestTypingManager_Stop(t *testing.T) {
	req := require.New(t)
	manager, registry, _ := newTypingFixture()
	alice, bob := newRecordingActor("alice"), newRecordingActor("bob")
	registry.Join("c1", alice)
	registry.Join("c1", bob)
	manager.Start("c1", "alice", alice)

	// When alice stops twice
	req.True(manager.Stop("c1", "alice", alice))
	req.False(manager.Stop("c1", "alice", alice))

	// Then bob sees one stop and no state is left
	req.Len(bob.Frames(domain.EventTypingStop), 1)
	req.Empty(manager.Active("c1"))
	req.Zero(manager.size())
}

func TestTypingManager_Sweep_Expires_Forgotten_Indicators(t *testing.T) {
	req := require.New(t)
	manager, registry, clock := newTypingFixture()
	bob := newRecordingActor("bob")
	registry.Join("c1", bob)

	// Given alice started typing and never stopped
	manager.Start("c1", "alice", nil)

	// When less than the expiry elapsed
	clock.Advance(1500 * time.Millisecond)

	// Then nothing expires
	req.Zero(manager.Sweep(clock.Now()))
	req.Empty(bob.Frames(domain.EventTypingStop))

	// When the expiry elapsed
	clock.Advance(500 * time.Millisecond)

	// Then a synthetic stop is broadcast
	req.Equal(1, manager.Sweep(clock.Now()))
	frames := bob.Frames(domain.EventTypingStop)
	req.Len(frames, 1)
	req.Equal(domain.TypingPayload{ConversationID: "c1", UserID: "alice"}, frames[0].Payload)
	req.Zero(manager.size())
}

func TestTypingManager_Sweep_Skips_The_Typers_Own_Connections(t *testing.T) {
	req := require.New(t)
	manager, registry, clock := newTypingFixture()
	aliceLaptop, alicePhone := newRecordingActor("alice"), newRecordingActor("alice")
	bob := newRecordingActor("bob")
	registry.Join("c1", aliceLaptop)
	registry.Join("c1", alicePhone)
	registry.Join("c1", bob)

	// Given alice typed from her laptop and went quiet
	manager.Start("c1", "alice", aliceLaptop)
	clock.Advance(2 * time.Second)

	// When the indicator expires
	req.Equal(1, manager.Sweep(clock.Now()))

	// Then only bob hears the stop
	req.Len(bob.Frames(domain.EventTypingStop), 1)
	req.Empty(aliceLaptop.Frames(domain.EventTypingStop))
	req.Empty(alicePhone.Frames(domain.EventTypingStop))
}

func TestTypingManager_Refresh_Extends_Expiry(t *testing.T) {
	req := require.New(t)
	manager, _, clock := newTypingFixture()

	manager.Start("c1", "alice", nil)
	clock.Advance(1500 * time.Millisecond)

	// When alice keeps typing
	manager.Start("c1", "alice", nil)
	clock.Advance(1500 * time.Millisecond)

	// Then the refreshed entry survives the sweep
	req.Zero(manager.Sweep(clock.Now()))
	req.Equal([]string{"alice"}, manager.Active("c1"))

	// And expires 2s after the last start
	clock.Advance(500 * time.Millisecond)
	req.Equal(1, manager.Sweep(clock.Now()))
}

func TestTypingManager_Active_Hides_Expired_Entries_Before_Sweep(t *testing.T) {
	req := require.New(t)
	manager, _, clock := newTypingFixture()

	manager.Start("c1", "alice", nil)
	manager.Start("c1", "bob", nil)
	clock.Advance(3 * time.Second)
	manager.Start("c1", "bob", nil)

	req.Equal([]string{"bob"}, manager.Active("c1"))
}
