package gpt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"

	"AstroBot/internal/lib/sl"
)

var ErrNoApiKey = errors.New("openai api key is not set")

const systemPrompt = "You are an astrologer writing short, warm readings for a chat bot. " +
	"Answer in at most four sentences, plain text, no markdown."

type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// KeySource returns the current API key; it may change between calls.
type KeySource func() string

// Reader produces free-form readings through the chat completion API.
// The client is rebuilt whenever the key changes.
type Reader struct {
	key       KeySource
	model     string
	mu        sync.Mutex
	client    completer
	clientKey string
	newClient func(key string) completer
	log       *slog.Logger
}

func NewReader(key KeySource, model string, logger *slog.Logger) *Reader {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Reader{
		key:   key,
		model: model,
		newClient: func(key string) completer {
			return openai.NewClient(key)
		},
		log: logger.With(sl.Module("gpt")),
	}
}

func (r *Reader) currentClient() (completer, error) {
	key := r.key()
	if key == "" {
		return nil, ErrNoApiKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil || r.clientKey != key {
		r.client = r.newClient(key)
		r.clientKey = key
	}
	return r.client, nil
}

// Ready reports whether a key is available.
func (r *Reader) Ready() error {
	if r.key() == "" {
		return ErrNoApiKey
	}
	return nil
}

// Reading asks the model for a reading about the given subject.
func (r *Reader) Reading(ctx context.Context, subject string) (string, error) {
	client, err := r.currentClient()
	if err != nil {
		return "", err
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: subject},
		},
		MaxTokens: 300,
	})
	if err != nil {
		r.log.With(sl.Err(err)).Error("chat completion")
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
