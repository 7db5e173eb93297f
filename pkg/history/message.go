package history

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one stored conversation turn. A message only exists once its
// audio has been uploaded, so AudioURL is always set on creation; entries
// that lost their URL are dropped on load.
type Message struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Text       string    `json:"text,omitempty"`
	AudioURL   string    `json:"audioUrl"`
	DurationMs int       `json:"durationMs,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

var lastMessageNano atomic.Int64

// NewMessage creates a message with a time-derived id. IDs are strictly
// increasing even when messages are created within the same nanosecond.
func NewMessage(role, text, audioURL string) Message {
	now := time.Now()
	nano := now.UnixNano()
	for {
		last := lastMessageNano.Load()
		if nano <= last {
			nano = last + 1
		}
		if lastMessageNano.CompareAndSwap(last, nano) {
			break
		}
	}
	return Message{
		ID:        fmt.Sprintf("msg_%d", nano),
		Role:      role,
		Text:      text,
		AudioURL:  audioURL,
		CreatedAt: now,
	}
}
