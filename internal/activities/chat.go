package activities

import (
	"context"
	"fmt"
	"strings"

	"github.com/inglespareto/credits/pkg/credits"
)

const (
	chatRoleSystem    = "system"
	chatRoleUser      = "user"
	chatRoleAssistant = "assistant"

	maxChatMessageLength = 4000
	maxChatHistory       = 20

	defaultTutorPrompt = "You are a friendly English tutor for Brazilian Portuguese speakers. " +
		"Answer in simple English, correct mistakes gently and end with a short follow-up question."
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a student message plus the prior conversation.
type ChatRequest struct {
	Message string
	History []ChatMessage
}

// ChatReply is the tutor's answer.
type ChatReply struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

// ChatProvider produces a completion for a conversation.
type ChatProvider interface {
	Complete(ctx context.Context, messages []ChatMessage) (ChatReply, error)
}

// ChatService bills one ai-chat-message per reply.
type ChatService struct {
	credits      *credits.Service
	provider     ChatProvider
	systemPrompt string
}

// ChatOption configures a ChatService.
type ChatOption func(*ChatService)

// WithSystemPrompt replaces the tutor persona.
func WithSystemPrompt(prompt string) ChatOption {
	return func(service *ChatService) {
		if strings.TrimSpace(prompt) != "" {
			service.systemPrompt = prompt
		}
	}
}

// NewChatService wires a ChatService.
func NewChatService(creditService *credits.Service, provider ChatProvider, options ...ChatOption) (*ChatService, error) {
	if creditService == nil || provider == nil {
		return nil, fmt.Errorf("%w: chat service needs credits and a provider", ErrMissingDependency)
	}
	service := &ChatService{credits: creditService, provider: provider, systemPrompt: defaultTutorPrompt}
	for _, option := range options {
		option(service)
	}
	return service, nil
}

// SendMessage asks the provider for a reply and charges the student only when one arrives.
func (service *ChatService) SendMessage(ctx context.Context, userID credits.UserID, request ChatRequest) credits.Result[ChatReply] {
	message := strings.TrimSpace(request.Message)
	if message == "" {
		return invalid[ChatReply]("message is empty")
	}
	if len(message) > maxChatMessageLength {
		return invalid[ChatReply]("message exceeds %d characters", maxChatMessageLength)
	}
	conversation := service.conversation(request.History, message)
	return credits.ExecuteActivity(ctx, service.credits, userID, credits.ActivityAIChatMessage, func(ctx context.Context, activityID string) (ChatReply, error) {
		reply, err := service.provider.Complete(ctx, conversation)
		if err != nil {
			return ChatReply{}, err
		}
		if strings.TrimSpace(reply.Content) == "" {
			return ChatReply{}, fmt.Errorf("%w: empty completion", ErrProviderFailure)
		}
		return reply, nil
	}, credits.ExecuteOptions{Description: "AI chat practice message"})
}

func (service *ChatService) conversation(history []ChatMessage, message string) []ChatMessage {
	if len(history) > maxChatHistory {
		history = history[len(history)-maxChatHistory:]
	}
	conversation := make([]ChatMessage, 0, len(history)+2)
	conversation = append(conversation, ChatMessage{Role: chatRoleSystem, Content: service.systemPrompt})
	for _, turn := range history {
		if turn.Role != chatRoleUser && turn.Role != chatRoleAssistant {
			continue
		}
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		conversation = append(conversation, turn)
	}
	return append(conversation, ChatMessage{Role: chatRoleUser, Content: message})
}
