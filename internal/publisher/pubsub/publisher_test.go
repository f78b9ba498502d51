package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "dce-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.TopicAdminClient.CreateTopic(context.Background(), &pubsubpb.Topic{
		Name: "projects/dce-project/topics/acquisitions",
	})
	require.NoError(t, err)
	return client, srv
}

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "t")
	require.Error(t, err)
	client, _ := newTestClient(t)
	_, err = New(client, "")
	require.Error(t, err)
}

func TestPublishSendsJSONWithEventAttribute(t *testing.T) {
	t.Parallel()

	client, srv := newTestClient(t)
	pub, err := New(client, "acquisitions")
	require.NoError(t, err)
	t.Cleanup(pub.Stop)

	id, err := pub.Publish(context.Background(), "acquisition.completed", map[string]string{"notice_id": "24-123456"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "acquisition.completed", msgs[0].Attributes["event"])
	var body map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	require.Equal(t, "24-123456", body["notice_id"])
}

func TestPublishOnNilPublisher(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	_, err := pub.Publish(context.Background(), "x", nil)
	require.Error(t, err)
}

func TestAttributeCarrier(t *testing.T) {
	t.Parallel()

	c := &attributeCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
