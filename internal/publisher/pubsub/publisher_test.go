package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestPublisher(t *testing.T) (*Publisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "movie-ingest-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = client.CreateTopic(ctx, "movies")
	require.NoError(t, err)

	p := New(client)
	t.Cleanup(func() { _ = p.Close() })
	return p, srv
}

func TestPublisherPublishesJSON(t *testing.T) {
	t.Parallel()

	p, srv := newTestPublisher(t)
	id, err := p.Publish(context.Background(), "movies", map[string]any{"event": "movie.upserted", "title": "Heat"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msg := srv.Message(id)
	require.NotNil(t, msg)
	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	require.Equal(t, "Heat", got["title"])
	require.Equal(t, "application/json", msg.Attributes["content-type"])
}

func TestPublisherRejectsBadInput(t *testing.T) {
	t.Parallel()

	p, _ := newTestPublisher(t)
	_, err := p.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")
	_, err = p.Publish(context.Background(), "movies", func() {})
	require.ErrorContains(t, err, "marshal payload")

	_, err = New(nil).Publish(context.Background(), "movies", "x")
	require.ErrorContains(t, err, "not configured")
}

func TestPublisherUnknownTopic(t *testing.T) {
	t.Parallel()

	p, _ := newTestPublisher(t)
	_, err := p.Publish(context.Background(), "missing", "x")
	require.ErrorContains(t, err, "publish message")
}
