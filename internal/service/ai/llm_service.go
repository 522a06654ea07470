package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/hikkinomore/buddy-server/internal/config"
	"github.com/hikkinomore/buddy-server/internal/model/chat"
	"github.com/hikkinomore/buddy-server/internal/model/preset"
)

// Service wraps the chat model behind a compiled prompt chain. It is the only
// component that talks to the generation backend.
type Service struct {
	chatModel model.ChatModel
	log       *logrus.Logger
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the generation service from the configured model.
func NewService(ctx context.Context, cfg config.AIConfig, log *logrus.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
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
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		log:       log,
		chain:     runnable,
	}, nil
}

// GetChatModel returns the underlying chat model so other chains (the skill
// judge) can reuse it.
func (s *Service) GetChatModel() model.ChatModel {
	return s.chatModel
}

// StreamReply streams the model's reply for one turn. The caller owns the
// returned reader and must close it.
func (s *Service) StreamReply(ctx context.Context, profile preset.Profile, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	input := map[string]any{
		"system":  systemPrompt(profile, history),
		"history": buildHistoryMessages(history),
		"query":   userMessage,
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream chat chain output: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"preset":  profile.ID,
		"history": len(history),
	}).Debug("generation stream opened")
	return stream, nil
}

// systemPrompt picks the prompt for the {system} slot. The scripted
// introduction belongs to a session's first turn only; once history exists the
// persona prompt goes in bare.
func systemPrompt(profile preset.Profile, history []chat.Message) string {
	if len(history) == 0 {
		return profile.Rendered()
	}
	return profile.SystemPrompt
}

// buildHistoryMessages converts stored history into model messages. The stored
// system preamble is dropped; the prompt template injects the current one.
func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
