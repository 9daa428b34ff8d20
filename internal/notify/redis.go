// Package notify carries queue snapshots between service instances over
// Redis pub/sub so every instance's display clients see every change.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"qms/shop-queue/internal/hub"
	"qms/shop-queue/internal/queue"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	channelPrefix = "queue:"
	snapshotTTL   = 24 * time.Hour
)

func Channel(shopID string) string {
	return channelPrefix + shopID
}

// SnapshotKey holds the latest published snapshot of a shop.
func SnapshotKey(shopID string) string {
	return channelPrefix + shopID + ":snapshot"
}

func shopFromChannel(channel string) (string, bool) {
	shopID, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok || shopID == "" || strings.Contains(shopID, ":") {
		return "", false
	}
	return shopID, true
}

type RedisPublisher struct {
	client *redis.Client
}

var _ queue.Publisher = (*RedisPublisher)(nil)

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, snapshot queue.Snapshot) error {
	payload, err := hub.EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	pipe := p.client.TxPipeline()
	pipe.Set(ctx, SnapshotKey(snapshot.ShopID), payload, snapshotTTL)
	pipe.Publish(ctx, Channel(snapshot.ShopID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", snapshot.ShopID, err)
	}
	return nil
}

// Latest returns the last snapshot payload published for shopID, or nil
// when none is stored.
func (p *RedisPublisher) Latest(ctx context.Context, shopID string) ([]byte, error) {
	payload, err := p.client.Get(ctx, SnapshotKey(shopID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", shopID, err)
	}
	return payload, nil
}

type Broadcaster interface {
	Broadcast(shopID string, payload []byte)
}

// Relay forwards every snapshot published by any instance to the local
// broadcaster until ctx is done.
func Relay(ctx context.Context, client *redis.Client, target Broadcaster, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	pubsub := client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	logger.Info("queue relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			shopID, ok := shopFromChannel(msg.Channel)
			if !ok {
				logger.WithField("channel", msg.Channel).Debug("ignore relay message")
				continue
			}
			target.Broadcast(shopID, []byte(msg.Payload))
		}
	}
}
