package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	fired, unsubFired := b.Subscribe(4, TypeFired)
	defer unsubFired()

	b.Publish(Event{Type: TypeTaskFailed, Data: "x"})
	b.Publish(Event{Type: TypeFired, Data: "y"})

	require.Len(t, all, 2)
	require.Len(t, fired, 1)
	e := <-fired
	require.Equal(t, "y", e.Data)
	require.False(t, e.Time.IsZero())
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: TypeFired})
	}
	require.Len(t, ch, 1)
	require.EqualValues(t, 4, b.Dropped())

	unsub()
	unsub()
	b.Publish(Event{Type: TypeFired})
	_, open := <-ch
	require.True(t, open) // buffered event still readable
	_, open = <-ch
	require.False(t, open)
}
