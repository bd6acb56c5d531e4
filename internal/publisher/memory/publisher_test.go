package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "movies", map[string]string{"title": "Heat"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "movies", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "movies", msgs[0].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "movies", pub.Messages()[0].Topic, "Messages() must return a copy")
}

func TestPublisherSetError(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.SetError(errors.New("broker down"))
	_, err := pub.Publish(context.Background(), "movies", "x")
	require.ErrorContains(t, err, "broker down")
	require.Empty(t, pub.Messages())

	pub.SetError(nil)
	_, err = pub.Publish(context.Background(), "movies", "x")
	require.NoError(t, err)
}
