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

func newFakeTopic(t *testing.T) (*pubsub.Topic, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "tagops-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "job-status")
	require.NoError(t, err)
	return topic, srv
}

func TestPublishSendsJSON(t *testing.T) {
	t.Parallel()

	topic, srv := newFakeTopic(t)
	pub := New(topic)
	defer pub.Stop()

	id, err := pub.Publish(context.Background(), "ignored", map[string]string{"jobId": "j1", "status": "failed"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "application/json", msgs[0].Attributes["content-type"])

	var got map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "failed", got["status"])
}

func TestPublishRejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	topic, _ := newFakeTopic(t)
	pub := New(topic)
	defer pub.Stop()

	_, err := pub.Publish(context.Background(), "", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestNilPublisher(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	_, err := pub.Publish(context.Background(), "", nil)
	require.Error(t, err)
	require.NotPanics(t, pub.Stop)
}
