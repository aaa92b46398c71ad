package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/nats-io/nkeys"
	"go.uber.org/zap"

	"threadgraph/api/internal/logging"
)

const (
	DefaultStream  = "bsky-ingest"
	DefaultSubject = "bsky.ingest.commit.create.app.bsky.feed.post"
	DefaultDurable = "threadgraph"
)

type JetStreamConfig struct {
	// Servers is a list of NATS URLs; bare host:port entries are accepted.
	Servers []string
	// NKeySeed authenticates the connection when set.
	NKeySeed string
	Stream   string
	Subject  string
	// Durable names the consumer so a restart resumes where it stopped; a new
	// durable consumer starts from the beginning of the stream. Empty means an
	// ephemeral consumer that only sees new messages.
	Durable string
}

// JetStreamSource is a pull consumer over a filtered JetStream stream.
type JetStreamSource struct {
	nc   *nats.Conn
	iter jetstream.MessagesContext
	stop func() bool
}

func Connect(ctx context.Context, cfg JetStreamConfig, log *zap.Logger) (*JetStreamSource, error) {
	log = logging.OrNop(log)
	if len(cfg.Servers) == 0 {
		return nil, errors.New("connect nats: no servers")
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}

	opts := []nats.Option{
		nats.Name("threadgraph"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}
	if cfg.NKeySeed != "" {
		opt, err := nkeyOption(cfg.NKeySeed)
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}

	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	src, err := subscribe(ctx, nc, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	log.Info("consuming",
		zap.String("stream", cfg.Stream),
		zap.String("subject", cfg.Subject),
		zap.String("durable", cfg.Durable))
	return src, nil
}

func subscribe(ctx context.Context, nc *nats.Conn, cfg JetStreamConfig) (*JetStreamSource, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	stream, err := js.Stream(ctx, cfg.Stream)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", cfg.Stream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, consumerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	iter, err := consumer.Messages()
	if err != nil {
		return nil, fmt.Errorf("consume messages: %w", err)
	}

	src := &JetStreamSource{nc: nc, iter: iter}
	src.stop = context.AfterFunc(ctx, iter.Stop)
	return src, nil
}

func consumerConfig(cfg JetStreamConfig) jetstream.ConsumerConfig {
	consumerCfg := jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
	if cfg.Durable == "" {
		consumerCfg.DeliverPolicy = jetstream.DeliverNewPolicy
	}
	return consumerCfg
}

func nkeyOption(seed string) (nats.Option, error) {
	kp, err := nkeys.FromSeed([]byte(strings.TrimSpace(seed)))
	if err != nil {
		return nil, fmt.Errorf("parse nkey seed: %w", err)
	}
	pub, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("nkey public key: %w", err)
	}
	return nats.Nkey(pub, kp.Sign), nil
}

// Next blocks for the next message. The iterator is stopped when the context
// passed to Connect is cancelled, which unblocks a pending call.
func (s *JetStreamSource) Next(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := s.iter.Next()
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
			return nil, ErrSourceClosed
		}
		return nil, err
	}
	return msg, nil
}

func (s *JetStreamSource) Close() {
	if s.stop != nil {
		s.stop()
	}
	s.iter.Stop()
	s.nc.Close()
}
