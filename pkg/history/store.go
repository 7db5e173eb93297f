package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// StorageKey is the fixed key the conversation history lives under.
const StorageKey = "pizzavoice.chat-history"

// DefaultProbeTimeout bounds one duration probe.
const DefaultProbeTimeout = 5 * time.Second

// KV is the persistence backend for the serialized history.
type KV interface {
	Get(key string) (value []byte, found bool, err error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// AudioClearer deletes all server-side audio. Clear treats its failure as
// best-effort.
type AudioClearer interface {
	ClearAll(ctx context.Context) (deleted int, err error)
}

// DurationProber resolves the playable length of an audio clip. It is an
// environment adapter: the CLI shells out to ffprobe, tests use fakes.
type DurationProber interface {
	Probe(ctx context.Context, url string) (time.Duration, error)
}

// Store keeps the conversation history: an in-memory message list mirrored
// to a single KV record. Every mutation re-serializes the full list.
type Store struct {
	kv           KV
	key          string
	logger       *slog.Logger
	prober       DurationProber
	probeTimeout time.Duration

	mu       sync.Mutex
	messages []Message
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// WithProber installs the duration prober.
func WithProber(p DurationProber) StoreOption {
	return func(s *Store) { s.prober = p }
}

// WithProbeTimeout overrides the per-probe deadline.
func WithProbeTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.probeTimeout = d }
}

// WithStorageKey overrides the KV record key.
func WithStorageKey(key string) StoreOption {
	return func(s *Store) { s.key = key }
}

// NewStore creates a history store over the given backend.
func NewStore(kv KV, opts ...StoreOption) *Store {
	s := &Store{
		kv:           kv,
		key:          StorageKey,
		logger:       slog.Default(),
		probeTimeout: DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the stored history into memory, dropping entries without an
// audio URL. A missing or corrupt record yields an empty history.
func (s *Store) Load() ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, found, err := s.kv.Get(s.key)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if !found {
		s.messages = nil
		return nil, nil
	}

	var stored []Message
	if err := json.Unmarshal(raw, &stored); err != nil {
		s.logger.Warn("history record is corrupt, starting fresh", "error", err)
		s.messages = nil
		return nil, nil
	}

	kept := stored[:0]
	for _, msg := range stored {
		if msg.AudioURL == "" {
			continue
		}
		kept = append(kept, msg)
	}
	if dropped := len(stored) - len(kept); dropped > 0 {
		s.logger.Info("dropped history entries without audio", "count", dropped)
	}

	s.messages = kept
	return s.snapshotLocked(), nil
}

// Messages returns a copy of the in-memory history.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Append adds a message and persists the full list.
func (s *Store) Append(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return s.saveLocked()
}

// Find returns the message with the given id.
func (s *Store) Find(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return Message{}, false
}

// Clear empties the history and persists the empty state, then asks the
// server to delete stored audio. Server-side failures are logged and
// swallowed: the local clear always wins.
func (s *Store) Clear(ctx context.Context, clearer AudioClearer) error {
	s.mu.Lock()
	s.messages = nil
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if clearer != nil {
		if deleted, clearErr := clearer.ClearAll(ctx); clearErr != nil {
			s.logger.Warn("server-side audio clear failed", "error", clearErr)
		} else {
			s.logger.Info("cleared server-side audio", "deleted", deleted)
		}
	}
	return nil
}

// ResolveDuration determines the playable length of the message's audio,
// caches it on the message, and persists. Already-resolved durations are
// returned without probing.
func (s *Store) ResolveDuration(ctx context.Context, id string) (time.Duration, error) {
	s.mu.Lock()
	idx := -1
	for i := range s.messages {
		if s.messages[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return 0, fmt.Errorf("resolve duration: no message %q", id)
	}
	if ms := s.messages[idx].DurationMs; ms > 0 {
		s.mu.Unlock()
		return time.Duration(ms) * time.Millisecond, nil
	}
	url := s.messages[idx].AudioURL
	s.mu.Unlock()

	if s.prober == nil {
		return 0, fmt.Errorf("resolve duration: no prober configured")
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	duration, err := s.prober.Probe(probeCtx, url)
	if err != nil {
		return 0, fmt.Errorf("resolve duration: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-find: the list may have changed while probing.
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].DurationMs = int(duration.Milliseconds())
			if err := s.saveLocked(); err != nil {
				return duration, err
			}
			break
		}
	}
	return duration, nil
}

func (s *Store) snapshotLocked() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) saveLocked() error {
	raw, err := json.Marshal(s.messages)
	if err != nil {
		return fmt.Errorf("serialize history: %w", err)
	}
	if err := s.kv.Set(s.key, raw); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}
