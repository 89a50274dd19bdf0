package coach

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// handlerList keeps registration order and hands out removal funcs.
type handlerList[T any] struct {
	mu     sync.Mutex
	nextID int
	items  []registeredHandler[T]
}

type registeredHandler[T any] struct {
	id int
	fn T
}

func (l *handlerList[T]) add(fn T) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.items = append(l.items, registeredHandler[T]{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, item := range l.items {
			if item.id == id {
				l.items = append(l.items[:i:i], l.items[i+1:]...)
				return
			}
		}
	}
}

func (l *handlerList[T]) snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]T, len(l.items))
	for i, item := range l.items {
		out[i] = item.fn
	}
	return out
}

// Factory functions for common handlers

// CreateTranscriptPrinter writes each entry as "AI: ..." or "You: ...".
func CreateTranscriptPrinter(w io.Writer) TranscriptHandler {
	return func(entry TranscriptEntry) {
		fmt.Fprintf(w, "%s: %s\n", entry.Label(), strings.TrimSpace(entry.Text))
	}
}

// CreateStateLoggingHandler logs every state change
func CreateStateLoggingHandler(logger *CoachLogger) StateHandler {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return func(state SessionState) {
		logger.WithField("state", state.String()).Info("Session state changed")
	}
}

// CreateStatePrinter writes a status line per state change
func CreateStatePrinter(w io.Writer) StateHandler {
	return func(state SessionState) {
		switch state {
		case Connecting:
			fmt.Fprintln(w, "Connecting to coach...")
		case Active:
			fmt.Fprintln(w, "Coach is listening. Press Enter to end the session.")
		case Idle:
			fmt.Fprintln(w, "Voice session ended. Press Enter to talk to the coach.")
		}
	}
}

// CreateErrorLoggingHandler logs errors with prefix as the message
func CreateErrorLoggingHandler(prefix string) ErrorHandler {
	return func(err *CoachError) {
		if err != nil {
			GetGlobalLogger().WithError(err).WithField("code", err.Code).Error(prefix)
		}
	}
}

// CreateErrorPrinter shows the user-facing message for each error.
func CreateErrorPrinter(w io.Writer) ErrorHandler {
	return func(err *CoachError) {
		if err != nil {
			fmt.Fprintln(w, UserMessage(err))
		}
	}
}

// SequentialTranscriptHandlers calls each handler in order
func SequentialTranscriptHandlers(handlers ...TranscriptHandler) TranscriptHandler {
	return func(entry TranscriptEntry) {
		for _, h := range handlers {
			if h != nil {
				h(entry)
			}
		}
	}
}

// SequentialErrorHandlers calls each handler in order
func SequentialErrorHandlers(handlers ...ErrorHandler) ErrorHandler {
	return func(err *CoachError) {
		for _, h := range handlers {
			if h != nil {
				h(err)
			}
		}
	}
}
