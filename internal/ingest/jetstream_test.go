package ingest

import (
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
)

func TestConsumerConfigDurableReplaysStream(t *testing.T) {
	cfg := consumerConfig(JetStreamConfig{Subject: DefaultSubject, Durable: DefaultDurable})

	assert.Equal(t, "threadgraph", cfg.Durable)
	assert.Equal(t, DefaultSubject, cfg.FilterSubject)
	assert.Equal(t, jetstream.AckExplicitPolicy, cfg.AckPolicy)
	assert.Equal(t, jetstream.DeliverAllPolicy, cfg.DeliverPolicy)
}

func TestConsumerConfigEphemeralSeesOnlyNewMessages(t *testing.T) {
	cfg := consumerConfig(JetStreamConfig{Subject: DefaultSubject})

	assert.Empty(t, cfg.Durable)
	assert.Equal(t, jetstream.DeliverNewPolicy, cfg.DeliverPolicy)
}
