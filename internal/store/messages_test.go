package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindlyrobotics/iplchat/internal/models"
)

func TestEnqueueMessageIsPendingUntilFlush(t *testing.T) {
	e := testEngine(t)
	senderUUID, err := e.RegisterClient("ivan", "pw")
	require.NoError(t, err)
	require.NoError(t, e.CreateChannelIfAbsent("chan-msg", "msg"))

	e.EnqueueMessage(&models.Message{
		SenderUUID:  senderUUID,
		ChannelUUID: "chan-msg",
		Ciphertext:  []byte("hello"),
		Kind:        models.KindText,
	})
	assert.Equal(t, 1, e.PendingMessageCount())

	require.NoError(t, e.Flush())
	assert.Equal(t, 0, e.PendingMessageCount())
}

func TestFlushPreservesEnqueueOrder(t *testing.T) {
	e := testEngine(t)
	senderUUID, err := e.RegisterClient("judy", "pw")
	require.NoError(t, err)
	require.NoError(t, e.CreateChannelIfAbsent("chan-order", "order"))

	for i := 0; i < 5; i++ {
		e.EnqueueMessage(&models.Message{
			SenderUUID:  senderUUID,
			ChannelUUID: "chan-order",
			Ciphertext:  []byte{byte(i)},
			Kind:        models.KindText,
		})
	}
	require.NoError(t, e.Flush())

	rows, err := e.db.Query(`SELECT content FROM messages ORDER BY id ASC`)
	require.NoError(t, err)
	defer rows.Close()

	var got []byte
	var i int
	for rows.Next() {
		var content []byte
		require.NoError(t, rows.Scan(&content))
		require.Len(t, content, 1)
		assert.Equal(t, byte(i), content[0])
		got = append(got, content[0])
		i++
	}
	assert.Len(t, got, 5)
}

func TestFlushWithNothingPendingIsNoop(t *testing.T) {
	e := testEngine(t)
	assert.NoError(t, e.Flush())
}
