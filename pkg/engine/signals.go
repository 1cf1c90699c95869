package engine

import (
	"context"
	"errors"
	"sync"
)

// Conventional signal names.
const (
	SignalReady     = "ready"
	SignalReloading = "reloading"
	SignalStopping  = "stopping"
)

// SignalHandler handles a signal on the synchronous path.
type SignalHandler func(e *Engine, signal string)

// AsyncSignalHandler handles a signal on the asynchronous path.
type AsyncSignalHandler func(ctx context.Context, e *Engine, signal string) error

// HandlerID identifies a registered handler for removal.
type HandlerID uint64

type handlerEntry struct {
	id    HandlerID
	sync  SignalHandler
	async AsyncSignalHandler
}

// Signals maps signal names to handlers, kept in registration order.
type Signals struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	next     HandlerID
}

// NewSignals creates an empty signal bus.
func NewSignals() *Signals {
	return &Signals{handlers: make(map[string][]handlerEntry)}
}

// Add registers a synchronous handler for signal.
func (s *Signals) Add(signal string, h SignalHandler) HandlerID {
	return s.add(signal, handlerEntry{sync: h})
}

// AddAsync registers an asynchronous handler for signal.
func (s *Signals) AddAsync(signal string, h AsyncSignalHandler) HandlerID {
	return s.add(signal, handlerEntry{async: h})
}

func (s *Signals) add(signal string, entry handlerEntry) HandlerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	entry.id = s.next
	s.handlers[signal] = append(s.handlers[signal], entry)
	return entry.id
}

// Remove unregisters a handler. It returns false if id was not registered for signal.
func (s *Signals) Remove(signal string, id HandlerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.handlers[signal]
	for i, entry := range entries {
		if entry.id == id {
			s.handlers[signal] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// Count returns the number of handlers registered for signal.
func (s *Signals) Count(signal string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.handlers[signal])
}

func (s *Signals) snapshot(signal string) []handlerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]handlerEntry, len(s.handlers[signal]))
	copy(entries, s.handlers[signal])
	return entries
}

// clone copies the handler lists; the handlers themselves are shared.
func (s *Signals) clone() *Signals {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := &Signals{
		handlers: make(map[string][]handlerEntry, len(s.handlers)),
		next:     s.next,
	}
	for name, entries := range s.handlers {
		out.handlers[name] = append([]handlerEntry(nil), entries...)
	}
	return out
}

// Trigger calls the synchronous handlers of signal in registration order.
// Asynchronous handlers are not called.
func (e *Engine) Trigger(signal string) {
	e.notifySignal(context.Background(), signal)
	for _, entry := range e.signals.snapshot(signal) {
		if entry.sync != nil {
			entry.sync(e, signal)
		}
	}
	e.logger.Debug().Str("signal", signal).Msg("Triggered signal")
}

// TriggerAsync calls the asynchronous handlers of signal in registration order,
// and the synchronous ones too when alsoSync is set. Handler errors are joined.
func (e *Engine) TriggerAsync(ctx context.Context, signal string, alsoSync bool) error {
	e.notifySignal(ctx, signal)
	var errs []error
	for _, entry := range e.signals.snapshot(signal) {
		switch {
		case entry.async != nil:
			if err := entry.async(ctx, e, signal); err != nil {
				e.logger.Error().Err(err).Str("signal", signal).Msg("Signal handler failed")
				errs = append(errs, err)
			}
		case entry.sync != nil && alsoSync:
			entry.sync(e, signal)
		}
	}
	e.logger.Debug().Str("signal", signal).Bool("also_sync", alsoSync).Msg("Triggered signal")
	return errors.Join(errs...)
}
