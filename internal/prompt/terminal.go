package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// DefaultTimeout bounds how long a terminal prompt waits for input.
const DefaultTimeout = 2 * time.Minute

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	optionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

// Terminal prompts on a line-oriented terminal and prints notifications.
type Terminal struct {
	In  io.Reader
	Out io.Writer

	// Interactive is false when no user can answer; every prompt is then
	// dismissed without reading input.
	Interactive bool

	// Timeout bounds each prompt. Zero means DefaultTimeout.
	Timeout time.Duration

	mu        sync.Mutex
	readOnce  sync.Once
	lines     chan string
	outputMux sync.Mutex
}

// NewTerminal prompts on in and writes to out. Prompts are only shown when
// in is a terminal.
func NewTerminal(in *os.File, out io.Writer) *Terminal {
	return &Terminal{
		In:          in,
		Out:         out,
		Interactive: term.IsTerminal(int(in.Fd())),
	}
}

// Info implements Notifier.
func (t *Terminal) Info(msg string) { t.println(infoStyle.Render("pglt:") + " " + msg) }

// Warn implements Notifier.
func (t *Terminal) Warn(msg string) { t.println(warnStyle.Render("pglt warning:") + " " + msg) }

// Error implements Notifier.
func (t *Terminal) Error(msg string) { t.println(errorStyle.Render("pglt error:") + " " + msg) }

// Confirm implements Prompter. The answer may be the option's number or its
// text.
func (t *Terminal) Confirm(ctx context.Context, message string, options ...string) (string, error) {
	if !t.Interactive || len(options) == 0 {
		return "", ErrDismissed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	b.WriteString(titleStyle.Render(message))
	b.WriteString("\n")
	for i, opt := range options {
		fmt.Fprintf(&b, "  %s %s\n", optionStyle.Render(fmt.Sprintf("[%d]", i+1)), opt)
	}
	b.WriteString("> ")
	t.print(b.String())

	line, err := t.readLine(ctx)
	if err != nil {
		return "", err
	}
	if idx, ok := choiceIndex(line, len(options)); ok {
		return options[idx], nil
	}
	for _, opt := range options {
		if strings.EqualFold(line, opt) {
			return opt, nil
		}
	}
	return "", ErrDismissed
}

// Pick implements Prompter.
func (t *Terminal) Pick(ctx context.Context, title string, items []Item) (Item, error) {
	if !t.Interactive || len(items) == 0 {
		return Item{}, ErrDismissed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	for i, item := range items {
		fmt.Fprintf(&b, "  %s %s", optionStyle.Render(fmt.Sprintf("[%d]", i+1)), item.Label)
		if item.Description != "" {
			b.WriteString(" " + faintStyle.Render(item.Description))
		}
		if item.Detail != "" {
			b.WriteString(" " + faintStyle.Render(item.Detail))
		}
		b.WriteString("\n")
	}
	b.WriteString("> ")
	t.print(b.String())

	line, err := t.readLine(ctx)
	if err != nil {
		return Item{}, err
	}
	if idx, ok := choiceIndex(line, len(items)); ok {
		return items[idx], nil
	}
	for _, item := range items {
		if line == item.Label {
			return item, nil
		}
	}
	return Item{}, ErrDismissed
}

// readLine waits for the next input line, the timeout, or ctx.
func (t *Terminal) readLine(ctx context.Context) (string, error) {
	t.readOnce.Do(func() {
		t.lines = make(chan string)
		go t.scan()
	})

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line, ok := <-t.lines:
		if !ok {
			return "", ErrDismissed
		}
		return strings.TrimSpace(line), nil
	case <-timer.C:
		t.print("\n")
		return "", ErrDismissed
	case <-ctx.Done():
		t.print("\n")
		return "", ErrDismissed
	}
}

// scan feeds input lines to readLine. One reader serves every prompt so
// reads on In never overlap.
func (t *Terminal) scan() {
	defer close(t.lines)
	scanner := bufio.NewScanner(t.In)
	for scanner.Scan() {
		t.lines <- scanner.Text()
	}
}

func (t *Terminal) print(s string) {
	if t.Out == nil {
		return
	}
	t.outputMux.Lock()
	defer t.outputMux.Unlock()
	_, _ = io.WriteString(t.Out, s)
}

func (t *Terminal) println(s string) {
	t.print(s + "\n")
}

func choiceIndex(line string, n int) (int, bool) {
	i, err := strconv.Atoi(line)
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}

var (
	_ Prompter = (*Terminal)(nil)
	_ Notifier = (*Terminal)(nil)
)
