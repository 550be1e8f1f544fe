package indexer

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cove-indexer/internal/config"
	"cove-indexer/internal/pubsub"
)

func TestProcessDeliversChangesOverNATS(t *testing.T) {
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 16)
	_, err = sub.ChanSubscribe("cove.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	publisher, err := pubsub.Connect(config.NATSConfig{URL: srv.ClientURL(), SubjectPrefix: "cove"}, zerolog.Nop())
	require.NoError(t, err)
	defer publisher.Close()

	f := newFixture(t)
	f.svc.publisher = publisher

	// no deadline on the caller's context
	res, err := f.svc.Process(context.Background(), swapAt(10, 0))
	require.NoError(t, err)
	require.NotEmpty(t, res.Changes)

	subjects := map[string]bool{}
	for len(subjects) < len(res.Changes) {
		select {
		case msg := <-msgs:
			assert.Equal(t, res.EventID, msg.Header.Get(pubsub.HeaderEventID))
			subjects[msg.Subject+"/"+msg.Header.Get(pubsub.HeaderEntityID)] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("期望收到 %d 条消息 实际 %d", len(res.Changes), len(subjects))
		}
	}
	assert.True(t, subjects["cove.Pool/"+f.svc.engine.PoolID()])
	assert.NotContains(t, subjects, "cove.Checkpoint/"+DefaultCheckpointID)
}
