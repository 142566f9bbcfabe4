package ai

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/persona-lens/backend/internal/apperr"
	"github.com/zhouzirui/persona-lens/backend/internal/logging"
	"github.com/zhouzirui/persona-lens/backend/internal/model/chat"
)

// Service runs grounded persona prompts through a chat model.
type Service struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the prompt chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel) (*Service, error) {
	if chatModel == nil {
		return nil, goerr.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to compile chat chain")
	}

	return &Service{chain: runnable}, nil
}

// Reply answers question in character. history holds the earlier turns of the
// conversation, oldest first, and must not include question itself.
func (s *Service) Reply(ctx context.Context, grounding string, history []chat.Message, question string) (string, error) {
	input := map[string]any{
		"system":  grounding,
		"history": buildHistoryMessages(history),
		"query":   question,
	}

	content, err := s.invoke(ctx, input)
	if err != nil {
		return "", err
	}

	logging.From(ctx).Debug("persona reply generated", "turns", len(history), "length", len(content))
	return content, nil
}

// Complete runs a single system + user exchange without history.
func (s *Service) Complete(ctx context.Context, system, userPrompt string) (string, error) {
	return s.invoke(ctx, map[string]any{
		"system": system,
		"query":  userPrompt,
	})
}

func (s *Service) invoke(ctx context.Context, input map[string]any) (string, error) {
	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", apperr.Upstream(err, "failed to run chat chain")
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", apperr.Upstream(goerr.New("empty model response"), "chat model returned no content")
	}
	return strings.TrimSpace(response.Content), nil
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Text))
		case chat.SenderPersona:
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		}
	}
	return history
}
