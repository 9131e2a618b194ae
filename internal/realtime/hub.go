// Package realtime fans document snapshots out to every connected client
// through Redis pub/sub. A write persists the content and publishes it on
// the document's channel; every subscriber, the writer included, observes
// the committed value in publish order. Echo filtering is the subscribing
// engine's job, not the hub's.
package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPresenceTTL is how long a viewer stays listed without a heartbeat.
const DefaultPresenceTTL = 30 * time.Second

// ContentStore persists the committed document content.
type ContentStore interface {
	UpdateDocumentContent(ctx context.Context, documentID, content, editedBy string) error
}

// Hub implements the document store the sync engine consumes, backed by
// Redis pub/sub for delivery and a ContentStore for durability.
type Hub struct {
	client *redis.Client
	store  ContentStore
}

// NewHub connects to Redis at redisURL and verifies the connection.
func NewHub(redisURL string, store ContentStore) (*Hub, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Hub{client: client, store: store}, nil
}

// NewHubWithClient creates a hub from an existing Redis client.
func NewHubWithClient(client *redis.Client, store ContentStore) *Hub {
	return &Hub{client: client, store: store}
}

// Close closes the Redis connection.
func (h *Hub) Close() error {
	return h.client.Close()
}

// Ping checks if Redis is reachable
func (h *Hub) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

func channelFor(documentID string) string {
	return "doc:" + documentID
}

// WriteAs persists content as editedBy, then publishes it to every
// subscriber. Persistence failing means nothing is published; the caller
// sees the write fail as a whole.
func (h *Hub) WriteAs(ctx context.Context, documentID, content, editedBy string) error {
	if h.store != nil {
		if err := h.store.UpdateDocumentContent(ctx, documentID, content, editedBy); err != nil {
			return fmt.Errorf("persist document content: %w", err)
		}
	}
	if err := h.client.Publish(ctx, channelFor(documentID), content).Err(); err != nil {
		return fmt.Errorf("publish document content: %w", err)
	}
	return nil
}

// Write implements the anonymous-editor form of WriteAs.
func (h *Hub) Write(ctx context.Context, documentID, content string) error {
	return h.WriteAs(ctx, documentID, content, "")
}

// Subscribe delivers every published content value for documentID to fn, in
// publish order, until the returned stop function is called or ctx ends.
func (h *Hub) Subscribe(ctx context.Context, documentID string, fn func(content string)) (func(), error) {
	sub := h.client.Subscribe(ctx, channelFor(documentID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to document: %w", err)
	}
	go func() {
		for msg := range sub.Channel() {
			fn(msg.Payload)
		}
	}()
	return func() { _ = sub.Close() }, nil
}

// ForUser binds the hub to one editor name, so the sync engine's writes
// carry provenance.
func (h *Hub) ForUser(editedBy string) *BoundStore {
	return &BoundStore{hub: h, editedBy: editedBy}
}

// BoundStore is a hub wrapper whose writes are attributed to one user.
type BoundStore struct {
	hub      *Hub
	editedBy string
}

func (b *BoundStore) Write(ctx context.Context, documentID, content string) error {
	return b.hub.WriteAs(ctx, documentID, content, b.editedBy)
}

func (b *BoundStore) Subscribe(ctx context.Context, documentID string, fn func(content string)) (func(), error) {
	return b.hub.Subscribe(ctx, documentID, fn)
}

func presenceKey(documentID, userID string) string {
	return "presence:" + documentID + ":" + userID
}

// Touch marks userID as viewing documentID for ttl (DefaultPresenceTTL when
// zero). Clients heartbeat this while the document is open.
func (h *Hub) Touch(ctx context.Context, documentID, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	if err := h.client.Set(ctx, presenceKey(documentID, userID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("touch presence: %w", err)
	}
	return nil
}

// Viewers lists the user ids currently viewing documentID.
func (h *Hub) Viewers(ctx context.Context, documentID string) ([]string, error) {
	prefix := "presence:" + documentID + ":"
	var out []string
	iter := h.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence: %w", err)
	}
	return out, nil
}
