package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "egp-new", map[string]string{"run_id": "r1"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "egp-audit", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "egp-new", msgs[0].Topic)
	assert.Equal(t, "egp-audit", msgs[1].Topic)

	msgs[0].Topic = "modified"
	assert.Equal(t, "egp-new", pub.Messages()[0].Topic, "Messages() must return a copy")
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("broker unavailable")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "t", "x")
	require.ErrorIs(t, err, boom)
	assert.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "t", "x")
	require.NoError(t, err)
	assert.Len(t, pub.Messages(), 1)
}
