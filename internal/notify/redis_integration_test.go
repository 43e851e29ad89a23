//go:build integration

package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/agora/internal/testutil/containers"
)

func TestRedisSink_Publishes(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	sub := rc.Client.Subscribe(ctx, "agora:notifications")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisSink(rc.Client, "agora:notifications")
	n := New(TypeMessageSent, uuid.New(), map[string]string{"conversation_id": "c1"})
	require.NoError(t, sink.Notify(ctx, n))

	select {
	case msg := <-sub.Channel():
		var got Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, n.ID, got.ID)
		assert.Equal(t, "c1", got.Payload["conversation_id"])
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
