package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"
	"messaging-core/errors"
	"messaging-core/observability"
	"messaging-core/services"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Services are the shared components an actor talks to.
type Services struct {
	Registry      contract.IRegistry
	Dispatcher    services.IDispatcher
	Receipts      services.IReceiptTracker
	Typing        services.ITypingManager
	Backfill      services.IBackfill
	Conversations services.IConversationService
	Metrics       *observability.Metrics
	Validate      *validator.Validate
}

type Options struct {
	BufferSize          int
	BackpressureTimeout time.Duration
	InboundRate         float64 // frames per second, 0 means unlimited
	InboundBurst        int
	PingInterval        time.Duration
}

// room is what the actor remembers of a conversation it joined.
// While syncing, live message frames wait in pending until the backfill
// is queued, so the client never sees a sequence go backwards.
type room struct {
	joined  bool
	syncing bool
	lastSeq uint64
	pending []domain.Frame
}

// Actor is the Connection Actor: one per live connection, bound to one
// authenticated user for its whole life.
type Actor struct {
	id        string
	userID    string
	transport Transport
	outbox    *Outbox
	limiter   *rate.Limiter
	svc       Services
	ping      time.Duration
	log       *slog.Logger

	mu        sync.Mutex
	rooms     map[string]*room
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ contract.Actor = (*Actor)(nil)

func NewActor(userID string, transport Transport, svc Services, opts Options, log *slog.Logger) *Actor {
	limit := rate.Inf
	if opts.InboundRate > 0 {
		limit = rate.Limit(opts.InboundRate)
	}
	if opts.InboundBurst <= 0 {
		opts.InboundBurst = 1
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = PingPeriod
	}
	if svc.Validate == nil {
		svc.Validate = validator.New()
	}
	a := &Actor{
		id:        uuid.NewString(),
		userID:    userID,
		transport: transport,
		limiter:   rate.NewLimiter(limit, opts.InboundBurst),
		svc:       svc,
		ping:      opts.PingInterval,
		rooms:     make(map[string]*room),
	}
	a.log = log.With("actor_id", a.id, "user_id", userID)
	a.outbox = NewOutbox(opts.BufferSize, opts.BackpressureTimeout, nil, func(t domain.EventType) {
		svc.Metrics.FramesDropped.WithLabelValues(string(t)).Inc()
	})
	return a
}

func (a *Actor) ID() string     { return a.id }
func (a *Actor) UserID() string { return a.userID }

// Run serves the connection until the transport fails, the client leaves
// or ctx is done. The actor is closed when Run returns.
func (a *Actor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer a.Close()
	// Closing the transport is what unblocks the read loop.
	stop := context.AfterFunc(ctx, a.Close)
	defer stop()

	a.svc.Registry.Connect(a)
	a.log.Info("Connection opened")
	if err := a.push(domain.NewReadyFrame(a.userID, a.id)); err != nil {
		return err
	}
	go a.writeLoop(ctx)
	return a.readLoop(ctx)
}

// Deliver enqueues a frame and never blocks. A connection that cannot keep
// up is closed asynchronously and the frame is reported as refused.
func (a *Actor) Deliver(frame domain.Frame) error {
	conversationID, seq, ok := sequenced(frame)
	if !ok {
		return a.push(frame)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.rooms[conversationID]
	if r == nil {
		return a.push(frame)
	}
	if r.syncing {
		r.pending = append(r.pending, frame)
		return nil
	}
	if seq <= r.lastSeq && frame.Type == domain.EventMessageNew {
		return nil
	}
	r.lastSeq = max(r.lastSeq, seq)
	return a.push(frame)
}

// Close is idempotent: it leaves every room, clears the user's typing state
// in them and drops the transport.
func (a *Actor) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		cancel := a.cancel
		a.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		a.outbox.Close()
		left := a.svc.Registry.LeaveAll(a)
		a.svc.Registry.Disconnect(a)
		for _, conversationID := range left {
			a.svc.Typing.Stop(conversationID, a.userID, a)
		}
		_ = a.transport.Close()
		a.log.Info("Connection closed", "rooms", len(left))
	})
}

func (a *Actor) push(frame domain.Frame) error {
	err := a.outbox.Push(frame)
	if errors.Is(err, errors.ErrSlowConsumer) {
		a.svc.Metrics.SlowConsumers.Inc()
		a.log.Warn("Slow consumer, closing connection", "queued", a.outbox.Len())
		go a.Close()
	}
	return err
}

func (a *Actor) readLoop(ctx context.Context) error {
	for {
		data, err := a.transport.Read()
		if err != nil {
			if ctx.Err() != nil || !IsUnexpectedClose(err) {
				a.log.Debug("Read loop ended", "error", err)
				return nil
			}
			a.log.Warn("Transport failure", "error", err)
			return fmt.Errorf("%w: %w", errors.ErrActorClosed, err)
		}
		if !a.limiter.Allow() {
			a.reject(errors.ErrRateLimited)
			continue
		}
		a.handle(ctx, data)
	}
}

// writeLoop is the only writer of the transport, pings included.
func (a *Actor) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(a.ping)
	defer ticker.Stop()
	for {
		for {
			frame, ok := a.outbox.Pop()
			if !ok {
				break
			}
			data, err := json.Marshal(frame)
			if err != nil {
				a.log.Error("Frame not encoded", "type", frame.Type, "error", err)
				continue
			}
			if err = a.transport.Write(data); err != nil {
				a.log.Debug("Write failed", "error", err)
				a.Close()
				return
			}
		}
		select {
		case <-a.outbox.Ready():
		case <-ticker.C:
			if err := a.transport.Ping(); err != nil {
				a.log.Debug("Ping failed", "error", err)
				a.Close()
				return
			}
		case <-a.outbox.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

type envelope struct {
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// handle processes one client frame. Whatever goes wrong is answered with
// an error frame to this connection only.
func (a *Actor) handle(ctx context.Context, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("Frame handler panicked", "panic", r)
			a.reject(fmt.Errorf("internal error"))
		}
	}()

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		a.reject(fmt.Errorf("%w: %w", errors.ErrMalformedFrame, err))
		return
	}
	if !env.Type.Inbound() {
		a.reject(fmt.Errorf("%w: %q", errors.ErrUnknownEvent, env.Type))
		return
	}

	var err error
	switch env.Type {
	case domain.EventJoin:
		var p domain.JoinPayload
		if err = a.decode(env.Payload, &p); err == nil {
			err = a.join(ctx, p)
		}
	case domain.EventLeave:
		var p domain.LeavePayload
		if err = a.decode(env.Payload, &p); err == nil {
			a.leave(p.ConversationID)
		}
	case domain.EventSendMessage:
		var p domain.SendMessagePayload
		if err = a.decode(env.Payload, &p); err == nil {
			err = a.send(ctx, p)
		}
	case domain.EventMarkRead:
		var p domain.MarkReadPayload
		if err = a.decode(env.Payload, &p); err == nil {
			err = a.markRead(ctx, p)
		}
	case domain.EventTypingStart, domain.EventTypingStop:
		var p domain.TypingPayload
		if err = a.decode(env.Payload, &p); err == nil {
			err = a.typing(env.Type, p.ConversationID)
		}
	}
	if err != nil {
		a.reject(err)
	}
}

func (a *Actor) decode(raw json.RawMessage, payload any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrMalformedFrame, err)
	}
	if err := a.svc.Validate.Struct(payload); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	return nil
}

// join subscribes the actor and replays what it missed. Live frames of the
// room are held back until the replay is queued.
func (a *Actor) join(ctx context.Context, p domain.JoinPayload) error {
	conversationID := p.ConversationID
	if _, err := a.svc.Conversations.Authorize(ctx, a.userID, conversationID); err != nil {
		return err
	}

	a.mu.Lock()
	r, ok := a.rooms[conversationID]
	if !ok {
		r = &room{}
		a.rooms[conversationID] = r
	}
	since := max(r.lastSeq, p.LastSeq)
	r.joined, r.syncing = true, true
	a.mu.Unlock()

	a.svc.Registry.Join(conversationID, a)
	replied := false
	err := a.svc.Backfill.Iterate(ctx, conversationID, since, func(page services.Page) error {
		if err := a.push(domain.NewBackfillFrame(conversationID, page.Messages, page.NextSince, page.HasMore)); err != nil {
			return err
		}
		replied, since = true, page.NextSince
		return nil
	})
	if err == nil && !replied {
		// Nothing missed: an empty page still confirms the join.
		err = a.push(domain.NewBackfillFrame(conversationID, nil, since, false))
	}

	a.mu.Lock()
	r.syncing = false
	r.lastSeq = max(r.lastSeq, since)
	pending := r.pending
	r.pending = nil
	for _, frame := range pending {
		_, seq, _ := sequenced(frame)
		if seq <= r.lastSeq && frame.Type == domain.EventMessageNew {
			continue
		}
		r.lastSeq = max(r.lastSeq, seq)
		if pushErr := a.push(frame); pushErr != nil {
			break
		}
	}
	a.mu.Unlock()

	for _, userID := range a.svc.Typing.Active(conversationID) {
		if userID != a.userID {
			_ = a.push(domain.NewTypingFrame(domain.EventTypingStart, conversationID, userID))
		}
	}
	a.log.Debug("Joined", "conversation_id", conversationID, "since", p.LastSeq, "resumed_at", since)
	return err
}

func (a *Actor) leave(conversationID string) {
	a.svc.Registry.Leave(conversationID, a)
	a.svc.Typing.Stop(conversationID, a.userID, a)
	a.mu.Lock()
	if r, ok := a.rooms[conversationID]; ok {
		r.joined, r.syncing, r.pending = false, false, nil
	}
	a.mu.Unlock()
}

func (a *Actor) send(ctx context.Context, p domain.SendMessagePayload) error {
	attachment, err := domain.NewAttachment(p.AttachmentURL, p.AttachmentType, p.AttachmentName)
	if err != nil {
		return err
	}
	m, err := a.svc.Dispatcher.SendMessage(ctx, domain.SendMessageCommand{
		SenderID:       a.userID,
		ConversationID: p.ConversationID,
		RecipientID:    p.RecipientID,
		ContextID:      p.PatternID,
		Content:        p.Content,
		Attachment:     attachment,
		ClientID:       p.ClientID,
	}, a)
	if err != nil {
		return err
	}
	// Sending ends the typing indicator.
	a.svc.Typing.Stop(m.ConversationID, a.userID, a)
	return nil
}

func (a *Actor) markRead(ctx context.Context, p domain.MarkReadPayload) error {
	_, err := a.svc.Receipts.Mark(ctx, domain.MarkReadCommand{
		ReaderID:       a.userID,
		MessageID:      p.MessageID,
		ConversationID: p.ConversationID,
		Conversation:   p.MarkConversation,
	})
	return err
}

// typing only applies to rooms this connection joined.
func (a *Actor) typing(t domain.EventType, conversationID string) error {
	if !a.joined(conversationID) {
		return errors.ErrNotParticipant
	}
	if t == domain.EventTypingStart {
		a.svc.Typing.Start(conversationID, a.userID, a)
	} else {
		a.svc.Typing.Stop(conversationID, a.userID, a)
	}
	return nil
}

func (a *Actor) joined(conversationID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.rooms[conversationID]
	return ok && r.joined
}

func (a *Actor) reject(err error) {
	code := errors.Code(err)
	a.svc.Metrics.FramesRejected.WithLabelValues(code).Inc()
	if errors.KindOf(err) == errors.KindPersistence {
		a.log.Warn("Frame rejected", "code", code, "error", err)
	} else {
		a.log.Debug("Frame rejected", "code", code, "error", err)
	}
	_ = a.push(domain.NewErrorFrame(code, err.Error(), errors.Retryable(err)))
}

// sequenced extracts the ordering key of message frames.
func sequenced(frame domain.Frame) (string, uint64, bool) {
	if frame.Type != domain.EventMessageNew && frame.Type != domain.EventMessageAck {
		return "", 0, false
	}
	p, ok := frame.Payload.(domain.MessagePayload)
	if !ok {
		return "", 0, false
	}
	return p.ConversationID, p.Seq, true
}
