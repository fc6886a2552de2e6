// Package gossip implements the supplemented provider-gossip transport:
// PROVIDE announcements are published to and consumed from a Kafka/Redpanda
// topic so that multiple DHT-lookup processes can share one logical
// provider store without a shared database. Grounded on
// ws/internal/shared/kafka/consumer.go's franz-go client setup and
// batching consume loop; the peer RPC itself remains out of scope (see
// internal/dht.PeerQuerier), this package only feeds internal/dht.Store.
package gossip

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rustyonions/ron-core/internal/dht"
)

// Announcement is the wire shape of one PROVIDE gossip message.
type Announcement struct {
	CID  string        `json:"cid"`
	Node string        `json:"node"`
	TTL  time.Duration `json:"ttl"`
}

// Producer publishes PROVIDE announcements to a Kafka/Redpanda topic,
// grounded on the franz-go client construction in
// ws/internal/shared/kafka/consumer.go (seed brokers, synchronous produce
// is the simplest safe default for a low-volume control-plane feed).
type Producer struct {
	client *kgo.Client
	topic  string
	logger zerolog.Logger
}

// NewProducer builds a Producer against brokers, publishing to topic.
func NewProducer(brokers []string, topic string, logger zerolog.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("gossip: at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("gossip: topic is required")
	}
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("gossip: create kafka client: %w", err)
	}
	return &Producer{client: client, topic: topic, logger: logger}, nil
}

// Announce publishes one PROVIDE announcement and waits for the broker's
// acknowledgement (ProduceSync), returning the first produce error, if any.
func (p *Producer) Announce(ctx context.Context, a Announcement) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("gossip: marshal announcement: %w", err)
	}
	record := &kgo.Record{Topic: p.topic, Key: []byte(a.CID), Value: body}
	result := p.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("gossip: produce: %w", err)
	}
	return nil
}

// Close releases the underlying Kafka client.
func (p *Producer) Close() { p.client.Close() }

// Consumer subscribes to the PROVIDE topic and feeds announcements into a
// local internal/dht.Store, grounded on
// ws/internal/shared/kafka/consumer.go's PollFetches consume loop
// (simplified to unbatched processing: gossip is low-volume control-plane
// traffic, not the hot data path the teacher's batching exists for).
type Consumer struct {
	client *kgo.Client
	store  *dht.Store
	logger zerolog.Logger
}

// NewConsumer builds a Consumer that writes announcements from topic into
// store.
func NewConsumer(brokers []string, topic, group string, store *dht.Store, logger zerolog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("gossip: at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("gossip: topic is required")
	}
	if store == nil {
		return nil, fmt.Errorf("gossip: store is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.FetchMaxWait(500*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("gossip: create kafka client: %w", err)
	}
	return &Consumer{client: client, store: store, logger: logger}, nil
}

// Run polls for announcements until ctx is cancelled, applying each one to
// the local store via Store.Add.
func (c *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.client.Close()
			return
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			c.client.Close()
			return
		}
		for _, fetchErr := range fetches.Errors() {
			c.logger.Error().Err(fetchErr.Err).Str("topic", fetchErr.Topic).Msg("gossip: fetch error")
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			var a Announcement
			if err := json.Unmarshal(rec.Value, &a); err != nil {
				c.logger.Warn().Err(err).Msg("gossip: malformed announcement")
				return
			}
			if err := c.store.Add(a.CID, a.Node, a.TTL); err != nil {
				c.logger.Warn().Err(err).Str("node", a.Node).Msg("gossip: rejected provider URI")
			}
		})
	}
}
