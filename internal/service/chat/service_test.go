package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-lens/backend/internal/apperr"
	modelchat "github.com/zhouzirui/persona-lens/backend/internal/model/chat"
	"github.com/zhouzirui/persona-lens/backend/internal/model/persona"
	"github.com/zhouzirui/persona-lens/backend/internal/service/chat"
)

type fakeReplier struct {
	mu         sync.Mutex
	calls      int
	groundings []string
	failNext   int
	delay      time.Duration
}

func (f *fakeReplier) Reply(_ context.Context, grounding string, history []modelchat.Message, question string) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.groundings = append(f.groundings, grounding)
	if f.failNext > 0 {
		f.failNext--
		return "", errors.New("model unavailable")
	}
	return fmt.Sprintf("answer to %q after %d turns", question, len(history)), nil
}

func (f *fakeReplier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newStore(t *testing.T) *persona.MemoryStore {
	t.Helper()
	store, err := persona.NewMemoryStore([]persona.Record{
		{ID: "p1", Summary: "Retired nurse who gardens.", Demographics: persona.Demographics{Gender: "Female"}, Embedding: []float64{1, 0}},
		{ID: "p2", Summary: "Student who games.", Embedding: []float64{0, 1}},
	})
	require.NoError(t, err)
	return store
}

func TestSendCreatesAndReusesSession(t *testing.T) {
	replier := &fakeReplier{}
	svc := chat.NewService(newStore(t), replier)
	ctx := context.Background()

	first, err := svc.Send(ctx, chat.SendInput{PersonaID: "p1", Question: "Hi?", ProductDescription: "A smart watering can"})
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionID)
	assert.Equal(t, `answer to "Hi?" after 0 turns`, first.Response)

	second, err := svc.Send(ctx, chat.SendInput{PersonaID: "p1", Question: "Price?", SessionID: first.SessionID, ProductDescription: "something else"})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, `answer to "Price?" after 2 turns`, second.Response)

	snapshot, err := svc.History(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, modelchat.StateActive, snapshot.State)
	assert.Equal(t, "A smart watering can", snapshot.ProductDescription)
	require.Len(t, snapshot.History, 4)
	assert.Equal(t, "Hi?", snapshot.History[0].Text)
	assert.Equal(t, modelchat.SenderPersona, snapshot.History[3].Sender)

	// grounding is fixed when the session opens
	require.Len(t, replier.groundings, 2)
	assert.Equal(t, replier.groundings[0], replier.groundings[1])
	assert.Contains(t, replier.groundings[0], "A smart watering can")
	assert.Contains(t, replier.groundings[0], "Retired nurse who gardens.")
	assert.Equal(t, 1, svc.Len())
}

func TestSendValidation(t *testing.T) {
	replier := &fakeReplier{}
	svc := chat.NewService(newStore(t), replier)
	ctx := context.Background()

	_, err := svc.Send(ctx, chat.SendInput{PersonaID: "p1", Question: "   "})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Send(ctx, chat.SendInput{Question: "hello"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Send(ctx, chat.SendInput{PersonaID: "ghost", Question: "hello"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NotErrorIs(t, err, apperr.ErrSessionNotFound)

	_, err = svc.Send(ctx, chat.SendInput{PersonaID: "p1", Question: "hello", SessionID: "missing"})
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)

	res, err := svc.Send(ctx, chat.SendInput{PersonaID: "p1", Question: "hello"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, chat.SendInput{PersonaID: "p2", Question: "hello", SessionID: res.SessionID})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Equal(t, 1, replier.callCount())
}

func TestConcurrentSendsKeepHistoryAlternating(t *testing.T) {
	replier := &fakeReplier{delay: time.Millisecond}
	svc := chat.NewService(newStore(t), replier)
	ctx := context.Background()

	const n = 20
	first, err := svc.Send(ctx, chat.SendInput{PersonaID: "p1", Question: "q0"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Send(ctx, chat.SendInput{PersonaID: "p1", Question: fmt.Sprintf("q%d", i), SessionID: first.SessionID})
			if err != nil {
				failures.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.Zero(t, failures.Load())

	snapshot, err := svc.History(ctx, first.SessionID)
	require.NoError(t, err)
	require.Len(t, snapshot.History, 2*n)

	seen := make(map[string]bool)
	for i, msg := range snapshot.History {
		if i%2 == 0 {
			assert.Equal(t, modelchat.SenderUser, msg.Sender)
			assert.False(t, seen[msg.Text], "duplicated question %s", msg.Text)
			seen[msg.Text] = true
			continue
		}
		assert.Equal(t, modelchat.SenderPersona, msg.Sender)
		assert.Equal(t, fmt.Sprintf("answer to %q after %d turns", snapshot.History[i-1].Text, i-1), msg.Text)
	}
	assert.Len(t, seen, n)
}

func TestRetryReplacesPendingTurn(t *testing.T) {
	replier := &fakeReplier{failNext: 1}
	svc := chat.NewService(newStore(t), replier)
	ctx := context.Background()

	failed, err := svc.Send(ctx, chat.SendInput{PersonaID: "p1", Question: "Would you buy it?"})
	require.ErrorIs(t, err, apperr.ErrUpstream)
	require.NotEmpty(t, failed.SessionID)

	snapshot, err := svc.History(ctx, failed.SessionID)
	require.NoError(t, err)
	require.Len(t, snapshot.History, 1)
	assert.Equal(t, modelchat.StateNew, snapshot.State)

	ok, err := svc.Send(ctx, chat.SendInput{PersonaID: "p1", Question: "Would you buy it?", SessionID: failed.SessionID})
	require.NoError(t, err)
	assert.Equal(t, failed.SessionID, ok.SessionID)

	snapshot, err = svc.History(ctx, failed.SessionID)
	require.NoError(t, err)
	require.Len(t, snapshot.History, 2)
	assert.Equal(t, modelchat.SenderUser, snapshot.History[0].Sender)
	assert.Equal(t, modelchat.SenderPersona, snapshot.History[1].Sender)
	assert.Equal(t, `answer to "Would you buy it?" after 0 turns`, snapshot.History[1].Text)
}

func TestNewQuestionAfterFailureKeepsUnansweredTurn(t *testing.T) {
	replier := &fakeReplier{failNext: 1}
	svc := chat.NewService(newStore(t), replier)
	ctx := context.Background()

	failed, err := svc.Send(ctx, chat.SendInput{PersonaID: "p1", Question: "Would you buy it?"})
	require.ErrorIs(t, err, apperr.ErrUpstream)

	ok, err := svc.Send(ctx, chat.SendInput{PersonaID: "p1", Question: "What would you pay?", SessionID: failed.SessionID})
	require.NoError(t, err)
	assert.Equal(t, `answer to "What would you pay?" after 1 turns`, ok.Response)

	snapshot, err := svc.History(ctx, failed.SessionID)
	require.NoError(t, err)
	require.Len(t, snapshot.History, 3)
	assert.Equal(t, "Would you buy it?", snapshot.History[0].Text)
	assert.Equal(t, "What would you pay?", snapshot.History[1].Text)
	assert.Equal(t, modelchat.SenderPersona, snapshot.History[2].Sender)
}

func TestCloseRejectsLaterSends(t *testing.T) {
	svc := chat.NewService(newStore(t), &fakeReplier{})
	ctx := context.Background()

	res, err := svc.Send(ctx, chat.SendInput{PersonaID: "p2", Question: "hey"})
	require.NoError(t, err)

	require.NoError(t, svc.Close(ctx, res.SessionID))
	assert.ErrorIs(t, svc.Close(ctx, res.SessionID), apperr.ErrSessionNotFound)

	_, err = svc.Send(ctx, chat.SendInput{PersonaID: "p2", Question: "again", SessionID: res.SessionID})
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
	_, err = svc.History(ctx, res.SessionID)
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
	assert.Zero(t, svc.Len())
}

func TestIdleSessionsExpire(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	svc := chat.NewService(newStore(t), &fakeReplier{}, chat.WithIdleTTL(30*time.Minute), chat.WithClock(clock))
	ctx := context.Background()

	stale, err := svc.Send(ctx, chat.SendInput{PersonaID: "p1", Question: "one"})
	require.NoError(t, err)

	advance(20 * time.Minute)
	fresh, err := svc.Send(ctx, chat.SendInput{PersonaID: "p2", Question: "two"})
	require.NoError(t, err)

	advance(10 * time.Minute)
	assert.Equal(t, 1, svc.Sweep(clock()))

	_, err = svc.Send(ctx, chat.SendInput{PersonaID: "p1", Question: "still there?", SessionID: stale.SessionID})
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)

	_, err = svc.Send(ctx, chat.SendInput{PersonaID: "p2", Question: "still there?", SessionID: fresh.SessionID})
	assert.NoError(t, err)

	// retrying without the stale id opens a new session
	again, err := svc.Send(ctx, chat.SendInput{PersonaID: "p1", Question: "still there?"})
	require.NoError(t, err)
	assert.NotEqual(t, stale.SessionID, again.SessionID)
}

func TestSendHonoursCancelledWait(t *testing.T) {
	block := make(chan struct{})
	replier := &blockingReplier{release: block}
	svc := chat.NewService(newStore(t), replier)

	first, err := svc.Send(context.Background(), chat.SendInput{PersonaID: "p1", Question: "open"})
	require.NoError(t, err)
	replier.block.Store(true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Send(context.Background(), chat.SendInput{PersonaID: "p1", Question: "slow", SessionID: first.SessionID})
	}()

	require.Eventually(t, func() bool { return replier.waiting.Load() }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = svc.Send(ctx, chat.SendInput{PersonaID: "p1", Question: "queued", SessionID: first.SessionID})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	<-done

	snapshot, err := svc.History(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Len(t, snapshot.History, 4)
}

type blockingReplier struct {
	release <-chan struct{}
	block   atomic.Bool
	waiting atomic.Bool
}

func (b *blockingReplier) Reply(_ context.Context, _ string, _ []modelchat.Message, question string) (string, error) {
	if b.block.Load() {
		b.waiting.Store(true)
		<-b.release
	}
	return "ok " + question, nil
}

// gateReplier blocks replies to the question "slow" until release is closed.
type gateReplier struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateReplier) Reply(_ context.Context, _ string, _ []modelchat.Message, question string) (string, error) {
	if question == "slow" {
		close(g.entered)
		<-g.release
	}
	return "ok " + question, nil
}

func TestSessionsDoNotBlockEachOther(t *testing.T) {
	replier := &gateReplier{entered: make(chan struct{}), release: make(chan struct{})}
	svc := chat.NewService(newStore(t), replier)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Send(context.Background(), chat.SendInput{PersonaID: "p1", Question: "slow"})
		done <- err
	}()
	<-replier.entered

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	res, err := svc.Send(ctx, chat.SendInput{PersonaID: "p2", Question: "fast"})
	require.NoError(t, err)
	assert.Equal(t, "ok fast", res.Response)

	close(replier.release)
	require.NoError(t, <-done)
	assert.Equal(t, 2, svc.Len())
}
