package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanout(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: RunQueued, Data: "x"})
	ea := <-a
	ec := <-c
	assert.Equal(t, RunQueued, ea.Type)
	assert.Equal(t, "x", ec.Data)
	assert.False(t, ea.Time.IsZero(), "publish stamps the time")

	unsubA()
	unsubA()
	_, ok := <-a
	assert.False(t, ok, "unsubscribe closes the channel")
	b.Publish(Event{Type: RunStarted})
	require.Equal(t, RunStarted, (<-c).Type)
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: RunQueued})
	b.Publish(Event{Type: RunStarted}) // buffer full; dropped, not blocked
	assert.Equal(t, RunQueued, (<-ch).Type)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %q", e.Type)
	default:
	}
}
