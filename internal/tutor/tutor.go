// Package tutor holds the AI tutor transcript and its persistence.
package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/virtualcafe/cafe/internal/storage"
)

// Store keys, shared with the web widget's local storage layout.
const (
	KeyMessages     = "chatbot-messages"
	KeyWelcomeShown = "chatbot-welcome-shown"
)

const (
	ErrorReply = "Sorry, I encountered an error. Please try again later."

	WelcomeMessage = "Hey there! 👋 Welcome to our cozy Virtual Cafe! ☕\n\n" +
		"I'm your AI tutor and study companion. I can help you with:\n\n" +
		"📚 Study any subject (Math, Science, Programming, etc.)\n" +
		"🎯 Create study plans and schedules\n" +
		"💡 Explain complex topics simply\n" +
		"✍️ Practice problems and homework help\n\n" +
		"What would you like to learn today?"

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrNoExchange    = errors.New("nothing to regenerate")
)

// Asker answers one question.
type Asker interface {
	AskTutor(ctx context.Context, message string) (string, error)
}

// Exchange is one question and its answer.
type Exchange struct {
	User      string `json:"user"`
	Bot       string `json:"bot"`
	Timestamp string `json:"timestamp"`
}

// Tutor keeps the transcript in a Store and asks questions through an Asker.
type Tutor struct {
	asker Asker
	store storage.Store
	clock clock.Clock

	mu      sync.Mutex
	history []Exchange
}

// New loads the saved transcript. A corrupt transcript is logged and
// replaced by an empty one.
func New(ctx context.Context, asker Asker, store storage.Store, clk clock.Clock) (*Tutor, error) {
	if clk == nil {
		clk = clock.New()
	}
	t := &Tutor{asker: asker, store: store, clock: clk}

	raw, ok, err := store.Get(ctx, KeyMessages)
	if err != nil {
		return nil, err
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.history); err != nil {
			slog.Error("error loading tutor transcript, starting empty", "error", err)
			t.history = nil
		}
	}
	return t, nil
}

// Welcome returns the welcome message the first time the tutor is opened with
// an empty transcript.
func (t *Tutor) Welcome(ctx context.Context) (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) > 0 {
		return "", false, nil
	}
	_, shown, err := t.store.Get(ctx, KeyWelcomeShown)
	if err != nil || shown {
		return "", false, err
	}
	if err := t.store.Set(ctx, KeyWelcomeShown, "true"); err != nil {
		return "", false, err
	}
	return WelcomeMessage, true, nil
}

// Ask sends a question. On failure the apology reply is returned along with
// the error and nothing is saved.
func (t *Tutor) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	reply, err := t.asker.AskTutor(ctx, question)
	if err != nil {
		slog.Error("tutor request failed", "error", err)
		return ErrorReply, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, Exchange{User: question, Bot: reply, Timestamp: t.now()})
	if err := t.save(ctx); err != nil {
		return reply, err
	}
	return reply, nil
}

// Regenerate asks the last question again and replaces its answer.
func (t *Tutor) Regenerate(ctx context.Context) (string, error) {
	t.mu.Lock()
	if len(t.history) == 0 {
		t.mu.Unlock()
		return "", ErrNoExchange
	}
	idx := len(t.history) - 1
	last := t.history[idx]
	t.mu.Unlock()

	reply, err := t.asker.AskTutor(ctx, last.User)
	if err != nil {
		slog.Error("tutor request failed", "error", err)
		return ErrorReply, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// The transcript may have changed while the request was in flight.
	if idx >= len(t.history) || t.history[idx].User != last.User {
		return reply, ErrNoExchange
	}
	t.history[idx] = Exchange{User: last.User, Bot: reply, Timestamp: t.now()}
	if err := t.save(ctx); err != nil {
		return reply, err
	}
	return reply, nil
}

// History returns a copy of the transcript, oldest first.
func (t *Tutor) History() []Exchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Exchange(nil), t.history...)
}

// Clear forgets the transcript.
func (t *Tutor) Clear(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = nil
	return t.store.Delete(ctx, KeyMessages)
}

// save persists the transcript. Callers hold t.mu.
func (t *Tutor) save(ctx context.Context) error {
	data, err := json.Marshal(t.history)
	if err != nil {
		return err
	}
	return t.store.Set(ctx, KeyMessages, string(data))
}

func (t *Tutor) now() string {
	return t.clock.Now().UTC().Format(timestampLayout)
}
