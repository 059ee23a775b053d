// Package notify tells subscribers that data behind a channel changed.
//
// A poke carries no data. Receivers react by pulling; the channel name only
// scopes who should pull. Pokes are sent after the transaction that made the
// change has committed, never before, and a failed poke never undoes a write.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Poker delivers invalidation pokes for a set of channels.
type Poker interface {
	Poke(ctx context.Context, channels ...string) error
}

// UserChannel is the channel every client of one user listens on.
func UserChannel(userID string) string {
	return "user/" + userID
}

// TenantChannel is the channel every user of one tenant listens on.
func TenantChannel(tenantID string) string {
	return "tenant/" + tenantID
}

// Unique drops empty and repeated channels, keeping first-seen order.
func Unique(channels []string) []string {
	seen := make(map[string]struct{}, len(channels))
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		if ch == "" {
			continue
		}
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}

// Nop discards every poke.
type Nop struct{}

func (Nop) Poke(context.Context, ...string) error { return nil }

// LogPoker writes pokes to a logger. Used when no broker is configured.
type LogPoker struct {
	Logger *slog.Logger
}

func (p LogPoker) Poke(ctx context.Context, channels ...string) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, ch := range Unique(channels) {
		logger.InfoContext(ctx, "poke", "channel", ch)
	}
	return nil
}

// Recorder remembers every poke in order. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	pokes  [][]string
	failed error
}

// FailWith makes every later Poke return err (after recording it).
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = err
}

func (r *Recorder) Poke(_ context.Context, channels ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pokes = append(r.pokes, append([]string(nil), channels...))
	return r.failed
}

// Pokes returns each recorded Poke call's channels.
func (r *Recorder) Pokes() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.pokes))
	for i, p := range r.pokes {
		out[i] = append([]string(nil), p...)
	}
	return out
}

// Channels flattens every recorded poke into one list, in order.
func (r *Recorder) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range r.pokes {
		out = append(out, p...)
	}
	return out
}

// Reset forgets recorded pokes.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pokes = nil
}
