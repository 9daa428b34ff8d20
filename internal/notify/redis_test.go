package notify

import (
	"context"
	"testing"
	"time"

	"qms/shop-queue/internal/queue"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "queue:shop-1", Channel("shop-1"))
	assert.Equal(t, "queue:shop-1:snapshot", SnapshotKey("shop-1"))

	tests := []struct {
		channel string
		shopID  string
		ok      bool
	}{
		{"queue:shop-1", "shop-1", true},
		{"queue:shop-1:snapshot", "", false},
		{"queue:", "", false},
		{"other:shop-1", "", false},
	}
	for _, tt := range tests {
		shopID, ok := shopFromChannel(tt.channel)
		assert.Equal(t, tt.ok, ok, tt.channel)
		assert.Equal(t, tt.shopID, shopID, tt.channel)
	}
}

func TestPublishReportsUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	publisher := NewRedisPublisher(client)

	err := publisher.Publish(context.Background(), queue.Snapshot{ShopID: "shop-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis publish shop-1")
	assert.Equal(t, "redis", publisher.Name())
}

func TestLatestReportsUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	payload, err := NewRedisPublisher(client).Latest(context.Background(), "shop-1")
	require.Error(t, err)
	assert.Nil(t, payload)
	assert.Contains(t, err.Error(), "redis get shop-1")
}
