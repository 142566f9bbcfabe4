package ai_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-lens/backend/internal/apperr"
	"github.com/zhouzirui/persona-lens/backend/internal/model/chat"
	"github.com/zhouzirui/persona-lens/backend/internal/model/persona"
	"github.com/zhouzirui/persona-lens/backend/internal/service/ai"
)

type recordingModel struct {
	mu     sync.Mutex
	inputs [][]*schema.Message
	reply  string
	err    error
}

func (m *recordingModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, input)
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *recordingModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestReplyBuildsConversation(t *testing.T) {
	fake := &recordingModel{reply: "  I would buy it.  "}
	svc, err := ai.NewService(context.Background(), fake)
	require.NoError(t, err)

	history := []chat.Message{
		{Sender: chat.SenderUser, Text: "hi"},
		{Sender: chat.SenderPersona, Text: "hello"},
	}
	reply, err := svc.Reply(context.Background(), "be yourself", history, "would you buy it?")
	require.NoError(t, err)
	assert.Equal(t, "I would buy it.", reply)

	require.Len(t, fake.inputs, 1)
	msgs := fake.inputs[0]
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, "be yourself", msgs[0].Content)
	assert.Equal(t, schema.User, msgs[1].Role)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, schema.Assistant, msgs[2].Role)
	assert.Equal(t, schema.User, msgs[3].Role)
	assert.Equal(t, "would you buy it?", msgs[3].Content)
}

func TestCompleteWithoutHistory(t *testing.T) {
	fake := &recordingModel{reply: "{}"}
	svc, err := ai.NewService(context.Background(), fake)
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), "sys", "rate {this}")
	require.NoError(t, err)
	require.Len(t, fake.inputs[0], 2)
	assert.Equal(t, "rate {this}", fake.inputs[0][1].Content)
}

func TestModelFailureIsUpstream(t *testing.T) {
	svc, err := ai.NewService(context.Background(), &recordingModel{err: errors.New("boom")})
	require.NoError(t, err)

	_, err = svc.Reply(context.Background(), "sys", nil, "q")
	assert.ErrorIs(t, err, apperr.ErrUpstream)

	empty, err := ai.NewService(context.Background(), &recordingModel{reply: "   "})
	require.NoError(t, err)
	_, err = empty.Complete(context.Background(), "sys", "q")
	assert.ErrorIs(t, err, apperr.ErrUpstream)
}

func TestNewServiceRequiresModel(t *testing.T) {
	_, err := ai.NewService(context.Background(), nil)
	assert.Error(t, err)
}

func TestGroundingPrompt(t *testing.T) {
	rec := persona.Record{
		ID:           "p1",
		Demographics: persona.Demographics{Gender: "Female", Age: "34", Income: "$50k"},
		Tags:         []string{"Frugal", "Practical"},
		Summary:      "Nurse who commutes by bike.",
	}

	withProduct := ai.GroundingPrompt(rec, "A folding e-bike")
	assert.Contains(t, withProduct, "Gender: Female")
	assert.Contains(t, withProduct, "Traits: Frugal, Practical")
	assert.Contains(t, withProduct, "Nurse who commutes by bike.")
	assert.Contains(t, withProduct, "A folding e-bike")
	assert.NotContains(t, withProduct, "Marital status")

	bare := ai.GroundingPrompt(rec, "  ")
	assert.NotContains(t, bare, "<PRODUCT>")

	fb := ai.FeedbackPrompt(rec, "A folding e-bike")
	assert.Contains(t, fb, "purchase_intent")
	assert.Contains(t, fb, "idea_relevance")
	assert.Contains(t, fb, "from 1 (lowest) to 10 (highest)")
}
