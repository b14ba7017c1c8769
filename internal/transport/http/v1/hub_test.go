package v1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublish(t *testing.T) {
	hub := NewHub(nil)

	a, unsubA := hub.Subscribe("s1")
	b, unsubB := hub.Subscribe("s1")
	other, unsubOther := hub.Subscribe("s2")
	defer unsubOther()

	assert.Equal(t, 2, hub.Subscribers("s1"))
	assert.Equal(t, 2, hub.SessionCount())

	hub.Publish("s1", a.id, Frame{Type: FrameTurn, Response: "hi"})

	require.Len(t, b.send, 1)
	assert.Equal(t, "hi", (<-b.send).Response)
	assert.Empty(t, a.send)
	assert.Empty(t, other.send)

	unsubA()
	unsubA()
	unsubB()
	_, open := <-a.send
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers("s1"))
	assert.Equal(t, 1, hub.SessionCount())

	// no listeners left
	hub.Publish("s1", "", Frame{Type: FrameTurn})
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil)
	sub, unsub := hub.Subscribe("s1")
	defer unsub()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish("s1", "", Frame{Type: FrameTurn})
	}
	assert.Len(t, sub.send, subscriberBuffer)
}
