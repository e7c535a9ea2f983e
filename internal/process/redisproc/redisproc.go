// Package redisproc is the distributed implementation of process.Registry
// and process.Mailbox, used when REDIS_ADDR is configured: SETNX for
// exclusive name registration, PUBLISH/SUBSCRIBE for the mailbox.
package redisproc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowcraft/dataflow/internal/process"
)

const registryLeaseTTL = 30 * time.Second

func registryKey(name string) string {
	return "dataflow:registry:" + name
}

// Registry is a Redis-backed process.Registry. Held names carry a lease so
// a crashed driver's name is eventually reclaimable. A lease is renewed
// only when the same pid calls Register again; the orchestrator driver
// registers once, when Run starts, and does not renew it.
type Registry struct {
	client *redis.Client
}

// NewRegistry wraps an existing redis client.
func NewRegistry(client *redis.Client) *Registry {
	return &Registry{client: client}
}

// Register implements process.Registry using SETNX.
func (r *Registry) Register(ctx context.Context, name string, pid process.Pid) (bool, error) {
	ok, err := r.client.SetNX(ctx, registryKey(name), string(pid), registryLeaseTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redisproc: register %s: %w", name, err)
	}
	if ok {
		return true, nil
	}

	// Already held: if it's held by this same pid (a lease refresh), renew it.
	held, err := r.client.Get(ctx, registryKey(name)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redisproc: inspect holder of %s: %w", name, err)
	}
	if held != string(pid) {
		return false, nil
	}
	if err := r.client.Expire(ctx, registryKey(name), registryLeaseTTL).Err(); err != nil {
		return false, fmt.Errorf("redisproc: renew lease for %s: %w", name, err)
	}
	return true, nil
}

// Lookup implements process.Registry.
func (r *Registry) Lookup(ctx context.Context, name string) (process.Pid, bool, error) {
	val, err := r.client.Get(ctx, registryKey(name)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redisproc: lookup %s: %w", name, err)
	}
	return process.Pid(val), true, nil
}

// Release implements process.Registry.
func (r *Registry) Release(ctx context.Context, name string, pid process.Pid) error {
	held, err := r.client.Get(ctx, registryKey(name)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redisproc: release %s: %w", name, err)
	}
	if held != string(pid) {
		return nil
	}
	if err := r.client.Del(ctx, registryKey(name)).Err(); err != nil {
		return fmt.Errorf("redisproc: release %s: %w", name, err)
	}
	return nil
}

func channelName(topic string) string {
	return "dataflow:mailbox:" + topic
}

// Mailbox is a Redis pub/sub-backed process.Mailbox. Payloads are JSON
// encoded on the wire; Listen decodes them back into any.
type Mailbox struct {
	client *redis.Client
}

// NewMailbox wraps an existing redis client.
func NewMailbox(client *redis.Client) *Mailbox {
	return &Mailbox{client: client}
}

// Send implements process.Mailbox.
func (m *Mailbox) Send(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("redisproc: marshal message for %s: %w", topic, err)
	}
	if err := m.client.Publish(ctx, channelName(topic), body).Err(); err != nil {
		return fmt.Errorf("redisproc: publish to %s: %w", topic, err)
	}
	return nil
}

// Listen implements process.Mailbox. Payloads arrive as map[string]any
// (the generic shape json.Unmarshal produces for any) since the concrete
// Go type sent by the publisher is not recoverable across the wire.
func (m *Mailbox) Listen(ctx context.Context, topic string) (<-chan process.Message, func()) {
	sub := m.client.Subscribe(ctx, channelName(topic))
	redisCh := sub.Channel()
	out := make(chan process.Message, 256)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				var payload any
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					continue
				}
				select {
				case out <- process.Message{Topic: topic, Payload: payload}:
				default:
				}
			}
		}
	}()

	cancel := func() {
		close(done)
		sub.Close()
		close(out)
	}
	return out, cancel
}
