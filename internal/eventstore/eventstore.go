// Package eventstore keeps the status mirror other systems read notification
// progress from. Items are linked to notifications by ExternalID only.
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	itemKeyPrefix     = "eventstore:item:"
	externalKeyPrefix = "eventstore:external:"
)

// Item is one mirrored notification status.
type Item struct {
	ID                string    `json:"id"`
	ExternalID        string    `json:"externalId"`
	Application       string    `json:"application,omitempty"`
	StatusCode        int       `json:"statusCode"`
	StatusName        string    `json:"statusName"`
	StatusDescription string    `json:"statusDescription,omitempty"`
	LastModified      time.Time `json:"lastModified"`
	CreatedAt         time.Time `json:"createdAt"`
}

type Container interface {
	QueryByExternalID(ctx context.Context, externalID string) ([]Item, error)
	UpsertItem(ctx context.Context, item Item) error
}

var _ Container = (*RedisContainer)(nil)

// RedisContainer stores items as JSON strings with a set per ExternalID.
type RedisContainer struct {
	client *goredis.Client
}

func NewRedisContainer(client *goredis.Client) (*RedisContainer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisContainer{client: client}, nil
}

func itemKey(id string) string { return itemKeyPrefix + id }

func externalKey(externalID string) string { return externalKeyPrefix + externalID }

func (c *RedisContainer) QueryByExternalID(ctx context.Context, externalID string) ([]Item, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, fmt.Errorf("external id is required")
	}

	ids, err := c.client.SMembers(ctx, externalKey(externalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read external id index %q: %w", externalID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, itemKey(id))
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load items for external id %q: %w", externalID, err)
	}

	items := make([]Item, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Index entry without an item.
			continue
		}
		var item Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("failed to decode item %q: %w", ids[i], err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *RedisContainer) UpsertItem(ctx context.Context, item Item) error {
	if strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("item id is required")
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode item %q: %w", item.ID, err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, itemKey(item.ID), payload, 0)
		if item.ExternalID != "" {
			pipe.SAdd(ctx, externalKey(item.ExternalID), item.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert item %q: %w", item.ID, err)
	}
	return nil
}
