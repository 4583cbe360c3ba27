package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/port"
)

var (
	ErrNoOpenConflict = errors.New("no open conflict")
	ErrNoDecision     = errors.New("conflict not answered in time")
)

var _ port.ConflictPresenter = (*ConflictBroker)(nil)

type openConflict struct {
	conflict domain.Conflict
	answer   chan domain.Resolution
}

// ConflictBroker presents conflicts to connected clients and waits for one of
// them to answer through Resolve.
type ConflictBroker struct {
	stream  *EventStream
	timeout time.Duration

	mu   sync.Mutex
	open map[domain.Key]*openConflict
}

func NewConflictBroker(stream *EventStream, timeout time.Duration) *ConflictBroker {
	b := &ConflictBroker{
		stream:  stream,
		timeout: timeout,
		open:    make(map[domain.Key]*openConflict),
	}
	if stream != nil {
		stream.OnResolve(b.Resolve)
	}
	return b
}

func (b *ConflictBroker) PresentConflict(ctx context.Context, c domain.Conflict) (domain.Resolution, error) {
	oc := &openConflict{conflict: c, answer: make(chan domain.Resolution, 1)}

	b.mu.Lock()
	b.open[c.Key] = oc
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.open[c.Key] == oc {
			delete(b.open, c.Key)
		}
		b.mu.Unlock()
	}()

	if b.stream != nil {
		b.stream.Broadcast(Message{
			Type:   MessageConflict,
			Key:    c.Key.String(),
			Local:  newGameView(c.Local, nil),
			Remote: newGameView(c.Remote, nil),
			Fields: c.Changes.Fields(),
		})
	}

	var timeout <-chan time.Time
	if b.timeout > 0 {
		t := time.NewTimer(b.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case r := <-oc.answer:
		return r, nil
	case <-timeout:
		return "", fmt.Errorf("%s: %w", c.Key, ErrNoDecision)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolve answers the open conflict for key.
func (b *ConflictBroker) Resolve(key domain.Key, r domain.Resolution) error {
	if !r.Valid() {
		return domain.Invalid("resolution", "must be keep-local or accept-remote")
	}

	b.mu.Lock()
	oc, ok := b.open[key]
	if ok {
		delete(b.open, key)
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s: %w", key, ErrNoOpenConflict)
	}
	oc.answer <- r
	return nil
}

// Open lists conflicts still waiting for an answer.
func (b *ConflictBroker) Open() []domain.Conflict {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Conflict, 0, len(b.open))
	for _, oc := range b.open {
		out = append(out, oc.conflict)
	}
	return out
}
