package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/game-shelf/internal/core/domain"
)

func TestStateStore_PutAndGet(t *testing.T) {
	s := NewStateStore(nil)
	require.NoError(t, s.Put(owned(1, "Super Mario 64")))

	got, ok := s.Get("1")
	require.True(t, ok)
	assert.Equal(t, "Super Mario 64", got.Name)

	// Mutating the copy must not leak into the store.
	*got.PurchasePrice = 99
	got.Name = "changed"
	again, _ := s.Get("1")
	assert.Equal(t, 40.0, *again.PurchasePrice)
	assert.Equal(t, "Super Mario 64", again.Name)
}

func TestStateStore_PutRequiresKey(t *testing.T) {
	s := NewStateStore(nil)
	err := s.Put(domain.Game{Name: "no key"})

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)
	assert.Equal(t, 0, s.Len())
}

func TestStateStore_EventsInMutationOrder(t *testing.T) {
	s := NewStateStore(nil)
	var seen []domain.EventType
	s.Subscribe(func(e domain.StoreEvent) { seen = append(seen, e.Type) })

	require.NoError(t, s.Put(owned(1, "A")))
	require.NoError(t, s.Put(owned(1, "B")))
	s.MarkOperation("1", domain.OperationEditField, "c1")
	s.ClearOperation("1")
	assert.True(t, s.Remove("1"))
	assert.False(t, s.Remove("1"))

	assert.Equal(t, []domain.EventType{
		domain.EventAdd,
		domain.EventUpdate,
		domain.EventOperationStarted,
		domain.EventOperationCleared,
		domain.EventRemove,
	}, seen)
}

func TestStateStore_ListenerPanicIsolated(t *testing.T) {
	s := NewStateStore(nil)
	var first, last int
	s.Subscribe(func(domain.StoreEvent) { first++ })
	s.Subscribe(func(domain.StoreEvent) { panic("boom") })
	s.Subscribe(func(domain.StoreEvent) { last++ })

	require.NoError(t, s.Put(owned(1, "A")))
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, last)
}

func TestStateStore_Unsubscribe(t *testing.T) {
	s := NewStateStore(nil)
	calls := 0
	cancel := s.Subscribe(func(domain.StoreEvent) { calls++ })

	require.NoError(t, s.Put(owned(1, "A")))
	cancel()
	require.NoError(t, s.Put(owned(2, "B")))
	assert.Equal(t, 1, calls)
}

func TestStateStore_RekeyKeepsPosition(t *testing.T) {
	s := NewStateStore(nil)
	require.NoError(t, s.Put(owned(1, "A")))
	require.NoError(t, s.Put(domain.Game{Key: "temp_1", Name: "B"}))
	require.NoError(t, s.Put(owned(3, "C")))
	s.MarkOperation("temp_1", domain.OperationCreate, "c1")

	var events []domain.StoreEvent
	s.Subscribe(func(e domain.StoreEvent) { events = append(events, e) })

	require.NoError(t, s.Rekey("temp_1", "42", domain.Game{Name: "B"}))

	assert.Equal(t, []domain.Key{"1", "42", "3"}, s.Keys())
	_, ok := s.Get("temp_1")
	assert.False(t, ok)
	op, ok := s.GetOperation("42")
	require.True(t, ok)
	assert.Equal(t, domain.Key("42"), op.Key)

	require.Len(t, events, 2)
	assert.Equal(t, domain.EventRemove, events[0].Type)
	assert.Equal(t, domain.Key("temp_1"), events[0].Key)
	assert.Equal(t, domain.EventAdd, events[1].Type)
	assert.Equal(t, domain.Key("42"), events[1].Key)
}

func TestStateStore_GetAllInInsertionOrder(t *testing.T) {
	s := NewStateStore(nil)
	for _, g := range []domain.Game{owned(3, "C"), owned(1, "A"), owned(2, "B")} {
		require.NoError(t, s.Put(g))
	}
	require.NoError(t, s.Put(owned(1, "A2")))

	all := s.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "C", all[0].Name)
	assert.Equal(t, "A2", all[1].Name)
	assert.Equal(t, "B", all[2].Name)
}
