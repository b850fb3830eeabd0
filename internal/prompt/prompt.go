// Package prompt models user interaction: confirmations, picks, and
// notifications. Every prompt is cancellable and may end in ErrDismissed.
package prompt

import (
	"context"
	"errors"
	"sync"
)

// ErrDismissed means the user declined to answer: they dismissed the prompt,
// the prompt timed out, or no interactive user is available.
var ErrDismissed = errors.New("prompt dismissed")

// Item is one choice in a Pick.
type Item struct {
	Label       string
	Description string
	Detail      string
}

// Prompter asks the user questions.
type Prompter interface {
	// Confirm shows message with a fixed set of options and returns the
	// chosen option.
	Confirm(ctx context.Context, message string, options ...string) (string, error)

	// Pick lets the user choose one of items.
	Pick(ctx context.Context, title string, items []Item) (Item, error)
}

// Notifier shows messages to the user.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// Level is a notification severity.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Message is a recorded notification.
type Message struct {
	Level Level
	Text  string
}

// Recorder is a Notifier that keeps every message. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) add(level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Level: level, Text: msg})
}

// Info implements Notifier.
func (r *Recorder) Info(msg string) { r.add(LevelInfo, msg) }

// Warn implements Notifier.
func (r *Recorder) Warn(msg string) { r.add(LevelWarn, msg) }

// Error implements Notifier.
func (r *Recorder) Error(msg string) { r.add(LevelError, msg) }

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Discard is a Notifier that drops every message.
type Discard struct{}

func (Discard) Info(string)  {}
func (Discard) Warn(string)  {}
func (Discard) Error(string) {}

// Static answers prompts from fixed values. An empty Answer dismisses
// confirmations; an empty Choice picks the first item.
type Static struct {
	Answer string
	Choice string

	mu       sync.Mutex
	confirms int
	picks    int
}

// Confirm implements Prompter.
func (s *Static) Confirm(ctx context.Context, _ string, _ ...string) (string, error) {
	s.mu.Lock()
	s.confirms++
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", ErrDismissed
	}
	if s.Answer == "" {
		return "", ErrDismissed
	}
	return s.Answer, nil
}

// Pick implements Prompter.
func (s *Static) Pick(ctx context.Context, _ string, items []Item) (Item, error) {
	s.mu.Lock()
	s.picks++
	s.mu.Unlock()
	if err := ctx.Err(); err != nil || len(items) == 0 {
		return Item{}, ErrDismissed
	}
	if s.Choice == "" {
		return items[0], nil
	}
	for _, item := range items {
		if item.Label == s.Choice {
			return item, nil
		}
	}
	return Item{}, ErrDismissed
}

// Confirms returns how many confirmations were requested.
func (s *Static) Confirms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirms
}

// Picks returns how many picks were requested.
func (s *Static) Picks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.picks
}

var (
	_ Prompter = (*Static)(nil)
	_ Notifier = (*Recorder)(nil)
	_ Notifier = Discard{}
)
