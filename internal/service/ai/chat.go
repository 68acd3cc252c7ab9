package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"chatrelay/internal/config"
	"chatrelay/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// ChatStreamer streams chat completions from an eino chat model.
type ChatStreamer struct {
	chatModel model.BaseChatModel
	provider  string
}

// NewChatStreamer builds the chat model for provider from its config block.
func NewChatStreamer(ctx context.Context, provider string, provCfg config.ProviderConfig) (*ChatStreamer, error) {
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: api key is required", provider)
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  provCfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return NewChatStreamerWithModel(provider, chatModel), nil
}

// NewChatStreamerWithModel wraps an already constructed chat model.
func NewChatStreamerWithModel(provider string, chatModel model.BaseChatModel) *ChatStreamer {
	return &ChatStreamer{chatModel: chatModel, provider: provider}
}

func (s *ChatStreamer) Provider() string {
	return s.provider
}

// Stream submits the transcript and calls onFragment for every non-empty
// fragment in arrival order. The concatenated reply is returned once the
// stream ends. Any error from onFragment aborts the stream.
func (s *ChatStreamer) Stream(ctx context.Context, transcript []models.Message, temperature float32, onFragment func(string) error) (string, error) {
	if len(transcript) == 0 {
		return "", errors.New("transcript cannot be empty")
	}

	reader, err := s.chatModel.Stream(ctx, convertMessages(transcript), model.WithTemperature(temperature))
	if err != nil {
		return "", fmt.Errorf("open completion stream: %w", err)
	}
	defer reader.Close()

	var full strings.Builder
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("receive completion fragment: %w", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if onFragment != nil {
			if err := onFragment(chunk.Content); err != nil {
				return "", err
			}
		}
	}
	return full.String(), nil
}

func convertMessages(transcript []models.Message) []*schema.Message {
	messages := make([]*schema.Message, 0, len(transcript))
	for _, msg := range transcript {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return messages
}
