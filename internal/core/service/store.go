package service

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rl1809/game-shelf/internal/core/domain"
)

// Listener receives store events synchronously, in mutation order. Listeners
// may read from the store but must not mutate it from inside the callback.
type Listener func(domain.StoreEvent)

// StateStore is the in-memory mirror of the games the user is looking at,
// plus the descriptor of the operation in flight for each of them.
type StateStore struct {
	mu    sync.RWMutex
	games map[domain.Key]domain.Game
	order []domain.Key
	ops   map[domain.Key]domain.Operation

	emitMu    sync.Mutex
	listenMu  sync.RWMutex
	listeners map[int]Listener
	nextID    int

	logger *slog.Logger
	now    func() time.Time
}

func NewStateStore(logger *slog.Logger) *StateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{
		games:     make(map[domain.Key]domain.Game),
		ops:       make(map[domain.Key]domain.Operation),
		listeners: make(map[int]Listener),
		logger:    logger,
		now:       time.Now,
	}
}

// Get returns a copy of the stored game.
func (s *StateStore) Get(key domain.Key) (*domain.Game, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	game, ok := s.games[key]
	if !ok {
		return nil, false
	}
	dup := game.Clone()
	return &dup, true
}

func (s *StateStore) GetAll() []domain.Game {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]domain.Game, 0, len(s.order))
	for _, key := range s.order {
		all = append(all, s.games[key].Clone())
	}
	return all
}

func (s *StateStore) Keys() []domain.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]domain.Key, len(s.order))
	copy(keys, s.order)
	return keys
}

func (s *StateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.games)
}

// Put inserts or wholesale replaces a game.
func (s *StateStore) Put(game domain.Game) error {
	if game.Key == "" {
		return &domain.ValidationError{Field: "key", Reason: "record has no key", Err: domain.ErrInvalidRecord}
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	stored := game.Clone()
	s.mu.Lock()
	_, exists := s.games[game.Key]
	s.games[game.Key] = stored
	if !exists {
		s.order = append(s.order, game.Key)
	}
	s.mu.Unlock()

	evt := domain.EventUpdate
	if !exists {
		evt = domain.EventAdd
	}
	s.emit(domain.StoreEvent{Type: evt, Key: game.Key, Game: domain.Snapshot(&stored)})
	return nil
}

func (s *StateStore) Remove(key domain.Key) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	game, ok := s.games[key]
	if ok {
		delete(s.games, key)
		s.order = removeKey(s.order, key)
	}
	s.mu.Unlock()

	if ok {
		s.emit(domain.StoreEvent{Type: domain.EventRemove, Key: key, Game: &game})
	}
	return ok
}

// Rekey moves a temporary entry to its confirmed key, keeping its position and
// any operation descriptor. It emits remove for the old key and add for the new.
func (s *StateStore) Rekey(from, to domain.Key, game domain.Game) error {
	if to == "" {
		return &domain.ValidationError{Field: "key", Reason: "record has no key", Err: domain.ErrInvalidRecord}
	}
	game.Key = to

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	stored := game.Clone()
	s.mu.Lock()
	old, hadOld := s.games[from]
	_, hadNew := s.games[to]
	delete(s.games, from)
	s.games[to] = stored
	switch {
	case hadOld && !hadNew:
		for i, k := range s.order {
			if k == from {
				s.order[i] = to
			}
		}
	case hadOld:
		s.order = removeKey(s.order, from)
	case !hadNew:
		s.order = append(s.order, to)
	}
	if op, ok := s.ops[from]; ok {
		delete(s.ops, from)
		op.Key = to
		s.ops[to] = op
	}
	s.mu.Unlock()

	if hadOld {
		s.emit(domain.StoreEvent{Type: domain.EventRemove, Key: from, Game: &old})
	}
	evt := domain.EventAdd
	if hadNew {
		evt = domain.EventUpdate
	}
	s.emit(domain.StoreEvent{Type: evt, Key: to, Game: domain.Snapshot(&stored)})
	return nil
}

// MarkOperation records the in-flight operation for key, replacing any
// previous descriptor.
func (s *StateStore) MarkOperation(key domain.Key, kind domain.OperationKind, correlationID string) domain.Operation {
	op := domain.Operation{
		Key:           key,
		Kind:          kind,
		StartedAt:     s.now(),
		CorrelationID: correlationID,
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	s.ops[key] = op
	s.mu.Unlock()

	s.emit(domain.StoreEvent{Type: domain.EventOperationStarted, Key: key, Operation: &op})
	return op
}

func (s *StateStore) ClearOperation(key domain.Key) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	op, ok := s.ops[key]
	delete(s.ops, key)
	s.mu.Unlock()

	if ok {
		s.emit(domain.StoreEvent{Type: domain.EventOperationCleared, Key: key, Operation: &op})
	}
}

func (s *StateStore) GetOperation(key domain.Key) (*domain.Operation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.ops[key]
	if !ok {
		return nil, false
	}
	return &op, true
}

func (s *StateStore) HasOperation(key domain.Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ops[key]
	return ok
}

// Subscribe registers a listener and returns the func that removes it.
func (s *StateStore) Subscribe(l Listener) func() {
	s.listenMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenMu.Unlock()

	return func() {
		s.listenMu.Lock()
		delete(s.listeners, id)
		s.listenMu.Unlock()
	}
}

func (s *StateStore) emit(evt domain.StoreEvent) {
	s.listenMu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	listeners := make([]Listener, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.listenMu.RUnlock()

	for _, l := range listeners {
		s.deliver(l, evt)
	}
}

func (s *StateStore) deliver(l Listener, evt domain.StoreEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("store listener failed",
				slog.String("event", string(evt.Type)),
				slog.String("key", evt.Key.String()),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	l(evt)
}

func removeKey(keys []domain.Key, key domain.Key) []domain.Key {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}
