package app

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/core/service"
	"github.com/rl1809/game-shelf/internal/port"
)

const persistTimeout = 5 * time.Second

type jobKind int

const (
	jobSave jobKind = iota
	jobDelete
	jobRecord
	jobClear
)

type job struct {
	kind jobKind
	key  domain.Key
	game domain.Game
	op   domain.Operation
}

// Persister writes confirmed games to the mirror and in-flight operations to
// the journal. Jobs for one key always land on the same worker so they are
// applied in store order.
type Persister struct {
	store   *service.StateStore
	mirror  port.MirrorRepository
	journal port.JournalRepository
	logger  *slog.Logger

	queues  []chan job
	wg      sync.WaitGroup
	dropped atomic.Int64

	mu     sync.Mutex
	closed bool
}

func NewPersister(store *service.StateStore, mirror port.MirrorRepository, journal port.JournalRepository, workers, queueSize int, logger *slog.Logger) *Persister {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Persister{
		store:   store,
		mirror:  mirror,
		journal: journal,
		logger:  logger,
		queues:  make([]chan job, workers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan job, queueSize)
	}
	return p
}

// Start launches the workers and subscribes to the store. The returned func
// unsubscribes.
func (p *Persister) Start() func() {
	for i, q := range p.queues {
		p.wg.Add(1)
		go func(id int, q <-chan job) {
			defer p.wg.Done()
			p.workerLoop(id, q)
		}(i, q)
	}
	return p.store.Subscribe(p.OnStoreEvent)
}

// OnStoreEvent runs inside the store's emission, so the store reads here see
// the state the event describes.
func (p *Persister) OnStoreEvent(evt domain.StoreEvent) {
	switch evt.Type {
	case domain.EventOperationStarted:
		if p.journal != nil && evt.Operation != nil {
			p.enqueue(job{kind: jobRecord, key: evt.Key, op: *evt.Operation})
		}
	case domain.EventOperationCleared:
		if p.journal != nil && evt.Operation != nil {
			p.enqueue(job{kind: jobClear, key: evt.Key, op: *evt.Operation})
		}
		p.mirrorCurrent(evt.Key)
	case domain.EventAdd, domain.EventUpdate, domain.EventRemove:
		// Optimistic writes are mirrored once their operation clears.
		if p.store.HasOperation(evt.Key) {
			return
		}
		p.mirrorCurrent(evt.Key)
	}
}

func (p *Persister) mirrorCurrent(key domain.Key) {
	if p.mirror == nil || key.IsTemporary() {
		return
	}
	if g, ok := p.store.Get(key); ok {
		p.enqueue(job{kind: jobSave, key: key, game: *g})
		return
	}
	p.enqueue(job{kind: jobDelete, key: key})
}

func (p *Persister) enqueue(j job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	h := fnv.New32a()
	h.Write([]byte(j.key))
	q := p.queues[int(h.Sum32()%uint32(len(p.queues)))]

	select {
	case q <- j:
	default:
		p.dropped.Add(1)
		p.logger.Warn("persist queue full, dropping job", slog.String("key", j.key.String()))
	}
}

func (p *Persister) workerLoop(id int, queue <-chan job) {
	for j := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)

		var err error
		switch j.kind {
		case jobSave:
			err = p.mirror.SaveGame(ctx, j.game)
		case jobDelete:
			err = p.mirror.DeleteGame(ctx, j.key)
		case jobRecord:
			err = p.journal.Record(ctx, j.op)
		case jobClear:
			err = p.journal.Clear(ctx, j.op.CorrelationID)
		}
		if err != nil {
			p.logger.Error("persist failed",
				slog.Int("worker", id),
				slog.String("key", j.key.String()),
				slog.Any("error", err),
			)
		}

		cancel()
	}
}

// Dropped reports how many jobs were discarded because a queue was full.
func (p *Persister) Dropped() int64 {
	return p.dropped.Load()
}

// Close stops accepting jobs and waits for the queued ones to be written.
func (p *Persister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
