package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/iplchat/internal/wire"
)

func TestPushDeliversPacketToListener(t *testing.T) {
	received := make(chan *wire.Packet, 1)
	l, err := Listen("127.0.0.1:0", func(pkt *wire.Packet) { received <- pkt })
	require.NoError(t, err)
	defer l.Close()

	pusher := NewPusher()
	pusher.Push("127.0.0.1", l.Port(), &wire.Packet{
		Type:    wire.MessageNotification,
		Payload: []byte("hello"),
	})

	select {
	case pkt := <-received:
		assert.Equal(t, wire.MessageNotification, pkt.Type)
		assert.Equal(t, []byte("hello"), pkt.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pushed packet")
	}
}

func TestPushToUnreachableHostDoesNotPanic(t *testing.T) {
	pusher := NewPusher()
	assert.NotPanics(t, func() {
		pusher.Push("127.0.0.1", 1, &wire.Packet{Type: wire.MessageNotification})
	})
}
