package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/persona-lens/backend/internal/apperr"
	"github.com/zhouzirui/persona-lens/backend/internal/logging"
	"github.com/zhouzirui/persona-lens/backend/internal/model/chat"
	"github.com/zhouzirui/persona-lens/backend/internal/model/persona"
	"github.com/zhouzirui/persona-lens/backend/internal/service/ai"
)

// DefaultIdleTTL is how long a session may stay silent before it expires.
const DefaultIdleTTL = 30 * time.Minute

// Replier generates the persona's next turn.
type Replier interface {
	Reply(ctx context.Context, grounding string, history []chat.Message, question string) (string, error)
}

// SendInput is one user turn.
type SendInput struct {
	PersonaID          string
	Question           string
	SessionID          string
	ProductDescription string
}

// SendResult carries the persona reply. SessionID is also set when Send fails
// after the session was resolved, so the caller can retry on it.
type SendResult struct {
	Response  string
	SessionID string
}

// Option customises a Service.
type Option func(*Service)

// WithIdleTTL sets the inactivity timeout. Zero disables expiry.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.idleTTL = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service owns the session table. Each session is guarded on its own, so
// turns of different sessions never wait for each other.
type Service struct {
	store   persona.Store
	replier Replier
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	turn turnLock

	mu        sync.Mutex
	session   chat.Session
	grounding string
	pending   bool
	inflight  int
}

// NewService creates an empty session manager.
func NewService(store persona.Store, replier Replier, opts ...Option) *Service {
	s := &Service{
		store:    store,
		replier:  replier,
		idleTTL:  DefaultIdleTTL,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send records question in the session and returns the persona's reply.
// Without a session id a new session is opened for input.PersonaID.
func (s *Service) Send(ctx context.Context, input SendInput) (SendResult, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return SendResult{}, apperr.Validation("question is required")
	}

	var (
		e   *entry
		err error
	)
	if input.SessionID == "" {
		e, err = s.open(ctx, strings.TrimSpace(input.PersonaID), input.ProductDescription)
	} else {
		e, err = s.lookup(input.SessionID, strings.TrimSpace(input.PersonaID))
	}
	if err != nil {
		return SendResult{}, err
	}

	e.mu.Lock()
	e.inflight++
	sessionID := e.session.ID
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inflight--
		e.mu.Unlock()
	}()

	if err := e.turn.acquire(ctx); err != nil {
		return SendResult{SessionID: sessionID}, goerr.Wrap(err, "waiting for session turn", goerr.V("session_id", sessionID))
	}
	defer e.turn.release()

	e.mu.Lock()
	if !isLive(e.session.State) {
		e.mu.Unlock()
		return SendResult{}, goerr.Wrap(apperr.ErrSessionNotFound, "session is no longer active", goerr.V("session_id", sessionID))
	}

	now := s.now()
	userMsg := chat.Message{Sender: chat.SenderUser, Text: question, CreatedAt: now}
	if last := len(e.session.History) - 1; e.pending && e.session.History[last].Text == question {
		// retry of a turn that never got a reply
		e.session.History[last] = userMsg
	} else {
		e.session.History = append(e.session.History, userMsg)
		e.pending = true
	}
	e.session.LastActiveAt = now
	prior := cloneMessages(e.session.History[:len(e.session.History)-1])
	grounding := e.grounding
	e.mu.Unlock()

	reply, err := s.replier.Reply(ctx, grounding, prior, question)
	if err != nil {
		if !errors.Is(err, apperr.ErrUpstream) {
			err = apperr.Upstream(err, "persona reply failed")
		}
		logging.From(ctx).Warn("persona reply failed", "session_id", sessionID, "error", err)
		return SendResult{SessionID: sessionID}, goerr.Wrap(err, "failed to send message", goerr.V("session_id", sessionID))
	}

	e.mu.Lock()
	now = s.now()
	e.session.History = append(e.session.History, chat.Message{Sender: chat.SenderPersona, Text: reply, CreatedAt: now})
	e.session.State = chat.StateActive
	e.session.LastActiveAt = now
	e.pending = false
	e.mu.Unlock()

	return SendResult{Response: reply, SessionID: sessionID}, nil
}

func (s *Service) open(ctx context.Context, personaID, product string) (*entry, error) {
	if personaID == "" {
		return nil, apperr.Validation("pid is required")
	}
	rec, err := s.store.Get(personaID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	e := &entry{
		session: chat.Session{
			ID:                 uuid.NewString(),
			PersonaID:          rec.ID,
			ProductDescription: strings.TrimSpace(product),
			State:              chat.StateNew,
			History:            make([]chat.Message, 0, 16),
			CreatedAt:          now,
			LastActiveAt:       now,
		},
		grounding: ai.GroundingPrompt(rec, product),
	}

	s.mu.Lock()
	s.sessions[e.session.ID] = e
	s.mu.Unlock()

	logging.From(ctx).Info("chat session created", "session_id", e.session.ID, "pid", rec.ID)
	return e, nil
}

func (s *Service) lookup(sessionID, personaID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, goerr.Wrap(apperr.ErrSessionNotFound, "unknown session", goerr.V("session_id", sessionID))
	}

	if personaID != "" {
		e.mu.Lock()
		owner := e.session.PersonaID
		e.mu.Unlock()
		if owner != personaID {
			return nil, apperr.Validation("session belongs to another persona",
				goerr.V("session_id", sessionID), goerr.V("pid", personaID))
		}
	}
	return e, nil
}

// Close ends a session after any in-flight turn has finished.
func (s *Service) Close(ctx context.Context, sessionID string) error {
	e, err := s.lookup(sessionID, "")
	if err != nil {
		return err
	}

	if err := e.turn.acquire(ctx); err != nil {
		return goerr.Wrap(err, "waiting for session turn", goerr.V("session_id", sessionID))
	}
	defer e.turn.release()

	e.mu.Lock()
	live := isLive(e.session.State)
	e.session.State = chat.StateClosed
	e.mu.Unlock()
	if !live {
		return goerr.Wrap(apperr.ErrSessionNotFound, "session is no longer active", goerr.V("session_id", sessionID))
	}

	s.remove(sessionID, e)
	logging.From(ctx).Info("chat session closed", "session_id", sessionID)
	return nil
}

// History returns a snapshot of a live session.
func (s *Service) History(_ context.Context, sessionID string) (chat.Session, error) {
	e, err := s.lookup(sessionID, "")
	if err != nil {
		return chat.Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !isLive(e.session.State) {
		return chat.Session{}, goerr.Wrap(apperr.ErrSessionNotFound, "session is no longer active", goerr.V("session_id", sessionID))
	}
	snapshot := e.session
	snapshot.History = cloneMessages(e.session.History)
	return snapshot, nil
}

// Len reports the number of live sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep expires every idle session whose last activity is at least the idle
// TTL before now. Sessions with a turn in progress are skipped.
func (s *Service) Sweep(now time.Time) int {
	if s.idleTTL <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for id, e := range s.sessions {
		e.mu.Lock()
		if e.inflight == 0 && now.Sub(e.session.LastActiveAt) >= s.idleTTL {
			e.session.State = chat.StateExpired
			delete(s.sessions, id)
			expired++
		}
		e.mu.Unlock()
	}
	return expired
}

// Run sweeps idle sessions every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.idleTTL <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				logging.From(ctx).Info("expired idle chat sessions", "count", n)
			}
		}
	}
}

func (s *Service) remove(sessionID string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sessionID] == e {
		delete(s.sessions, sessionID)
	}
}

func isLive(state chat.State) bool {
	return state == chat.StateNew || state == chat.StateActive
}

func cloneMessages(messages []chat.Message) []chat.Message {
	out := make([]chat.Message, len(messages))
	copy(out, messages)
	return out
}
