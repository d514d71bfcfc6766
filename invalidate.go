// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// invalidate.go: cross-process read-cache invalidation over Redis pub/sub.
// Every store sharing a Redis backend publishes the keys it writes; the
// others drop those keys from their read caches.

package konserve

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/danielsz/konserve/internal/backend"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultInvalidationChannel = "konserve:invalidate"

// invalidationMsg is the pub/sub payload announcing a changed key.
type invalidationMsg struct {
	Origin string `json:"origin"`
	Key    string `json:"key"`
	Op     string `json:"op"` // "write" | "delete"
}

// invalidator publishes this store's writes and applies other stores' writes
// to the local read cache.
type invalidator struct {
	s       *Store
	redis   *backend.Redis
	channel string
	origin  string
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func newInvalidator(s *Store, r *backend.Redis, channel string) *invalidator {
	if channel == "" {
		channel = defaultInvalidationChannel
	}
	return &invalidator{
		s:       s,
		redis:   r,
		channel: channel,
		origin:  uuid.NewString(),
		stopCh:  make(chan struct{}),
	}
}

// start subscribes before returning, so no write published after NewStore
// returns is missed.
func (iv *invalidator) start(ctx context.Context) error {
	if iv.s.cache == nil {
		return nil
	}
	sub := iv.redis.Subscribe(ctx, iv.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("konserve: subscribe %s: %w", iv.channel, err)
	}
	iv.wg.Add(1)
	go iv.subscribeLoop(sub)
	return nil
}

func (iv *invalidator) stop() {
	close(iv.stopCh)
	iv.wg.Wait()
}

func (iv *invalidator) publish(ctx context.Context, key, op string) {
	b, _ := json.Marshal(invalidationMsg{Origin: iv.origin, Key: key, Op: op})
	if err := iv.redis.Publish(ctx, iv.channel, b); err != nil {
		iv.s.logger.Warn("konserve: publish invalidation failed", "key", key, "error", err)
	}
}

func (iv *invalidator) subscribeLoop(sub *redis.PubSub) {
	defer iv.wg.Done()
	for {
		iv.drain(sub)
		select {
		case <-iv.stopCh:
			return
		case <-time.After(500 * time.Millisecond):
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		sub = iv.redis.Subscribe(ctx, iv.channel)
		_, err := sub.Receive(ctx)
		cancel()
		if err != nil {
			_ = sub.Close()
			iv.s.logger.Warn("konserve: resubscribe failed", "channel", iv.channel, "error", err)
			sub = nil
			continue
		}
		// messages sent while disconnected are lost
		iv.s.cache.Flush()
	}
}

// drain applies messages until the subscription ends or the store stops.
func (iv *invalidator) drain(sub *redis.PubSub) {
	if sub == nil {
		return
	}
	defer sub.Close()
	msgCh := sub.Channel()
	for {
		select {
		case <-iv.stopCh:
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			iv.handle(msg.Payload)
		}
	}
}

func (iv *invalidator) handle(payload string) {
	var msg invalidationMsg
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		iv.s.logger.Warn("konserve: malformed invalidation message", "payload", payload, "error", err)
		return
	}
	if msg.Origin == iv.origin {
		return
	}
	switch msg.Op {
	case "write", "delete":
		// under the key lock, so a read that fetched the old bytes cannot
		// cache them after this
		mu := iv.s.lockFor(msg.Key)
		mu.Lock()
		iv.s.cache.Delete(msg.Key)
		mu.Unlock()
	}
}
