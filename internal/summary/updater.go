package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

// Updater folds a new text segment into a prior state.
type Updater interface {
	Update(ctx context.Context, prior State, segment string, locale string) (State, error)
}

// completeFunc sends one system+user exchange and returns the reply text.
type completeFunc func(ctx context.Context, params anyllmlib.CompletionParams) (string, error)

// LLMUpdater asks a chat model to rewrite the state as JSON.
type LLMUpdater struct {
	model    string
	complete completeFunc
}

var _ Updater = (*LLMUpdater)(nil)

// NewLLMUpdater builds an updater on the named any-llm-go backend
// (gemini, openai, anthropic or ollama).
func NewLLMUpdater(provider string, model string, opts ...anyllmlib.Option) (*LLMUpdater, error) {
	if model == "" {
		return nil, errors.New("summary: model must not be empty")
	}
	backend, err := createBackend(provider, opts...)
	if err != nil {
		return nil, fmt.Errorf("summary: create %q backend: %w", provider, err)
	}

	return newLLMUpdater(model, func(ctx context.Context, params anyllmlib.CompletionParams) (string, error) {
		resp, err := backend.Completion(ctx, params)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("empty choices in response")
		}
		return resp.Choices[0].Message.ContentString(), nil
	}), nil
}

func newLLMUpdater(model string, complete completeFunc) *LLMUpdater {
	return &LLMUpdater{model: model, complete: complete}
}

func createBackend(provider string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "gemini":
		return gemini.New(opts...)
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: gemini, openai, anthropic, ollama", provider)
	}
}

// Update implements Updater.
func (u *LLMUpdater) Update(ctx context.Context, prior State, segment string, locale string) (State, error) {
	priorJSON, err := json.MarshalIndent(prior.Normalized(), "", "  ")
	if err != nil {
		return State{}, fmt.Errorf("encode prior summary: %w", err)
	}

	reply, err := u.complete(ctx, anyllmlib.CompletionParams{
		Model: u.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt(locale)},
			{Role: "user", Content: userPrompt(locale, string(priorJSON), segment)},
		},
	})
	if err != nil {
		return State{}, fmt.Errorf("summary completion: %w", err)
	}
	return parseReply(reply)
}

// parseReply strips markdown code fences and decodes the JSON object.
func parseReply(reply string) (State, error) {
	clean := strings.ReplaceAll(reply, "```json", "")
	clean = strings.ReplaceAll(clean, "```", "")
	clean = strings.TrimSpace(clean)

	var next State
	if err := json.Unmarshal([]byte(clean), &next); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidSummary, err)
	}
	return next.Normalized(), nil
}
