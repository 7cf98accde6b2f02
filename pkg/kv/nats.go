/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/natsutil"
)

// JetStream caps per-key history.
const maxHistory = 64

// NatsStore keeps state in a JetStream key/value bucket.
type NatsStore struct {
	nc     *nats.Conn
	ownsNC bool
	kv     jetstream.KeyValue
	log    logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

var _ KVStore = (*NatsStore)(nil)

// NewNatsStore connects to cfg.NATSURL and opens (or creates) the bucket.
func NewNatsStore(ctx context.Context, cfg Config, log logger.Logger) (*NatsStore, error) {
	if cfg.NATSURL == "" {
		return nil, errNatsURLRequired
	}

	nc, err := natsutil.Connect(cfg.NATSURL, "envradar-kv", cfg.TLS)
	if err != nil {
		return nil, err
	}

	store, err := NewNatsStoreFromConn(ctx, nc, cfg, log)
	if err != nil {
		nc.Close()

		return nil, err
	}

	store.ownsNC = true

	return store, nil
}

// NewNatsStoreFromConn opens the bucket over an existing connection. The
// connection stays open when the store is closed.
func NewNatsStoreFromConn(ctx context.Context, nc *nats.Conn, cfg Config, log logger.Logger) (*NatsStore, error) {
	if cfg.Bucket == "" {
		return nil, errBucketRequired
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	config := jetstream.KeyValueConfig{
		Bucket:  cfg.Bucket,
		History: uint8(max(1, min(cfg.BucketHistory, maxHistory))), //nolint:gosec // clamped
	}

	if ttl := time.Duration(cfg.BucketTTL); ttl > 0 {
		config.TTL = ttl
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())

	return &NatsStore{
		nc:     nc,
		kv:     kv,
		log:    logger.Component(log, "kv-nats"),
		ctx:    sctx,
		cancel: cancel,
	}, nil
}

// bucketKey maps key onto the characters JetStream accepts. Dots are
// escaped too, so a key never splits into subject tokens. The mapping is
// injective: '=' only appears as an escape.
func bucketKey(key string) string {
	var b strings.Builder

	for i := 0; i < len(key); i++ {
		c := key[i]

		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '/':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02X", c)
		}
	}

	return b.String()
}

// Get implements KVStore.
func (n *NatsStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := n.kv.Get(ctx, bucketKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	return entry.Value(), true, nil
}

// Put implements KVStore. TTL is configured per bucket.
func (n *NatsStore) Put(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if _, err := n.kv.Put(ctx, bucketKey(key), value); err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}

	return nil
}

// PutMany implements KVStore.
func (n *NatsStore) PutMany(ctx context.Context, entries []KeyValueEntry, ttl time.Duration) error {
	for _, e := range entries {
		if err := n.Put(ctx, e.Key, e.Value, ttl); err != nil {
			return err
		}
	}

	return nil
}

// Delete implements KVStore.
func (n *NatsStore) Delete(ctx context.Context, key string) error {
	err := n.kv.Delete(ctx, bucketKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}

	return nil
}

// Watch implements KVStore. Only changes made after the call are delivered.
func (n *NatsStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	watcher, err := n.kv.Watch(ctx, bucketKey(key), jetstream.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to watch key %s: %w", key, err)
	}

	ch := make(chan []byte, 1)
	go n.handleWatchUpdates(ctx, key, watcher, ch)

	return ch, nil
}

func (n *NatsStore) handleWatchUpdates(ctx context.Context, key string, watcher jetstream.KeyWatcher, ch chan<- []byte) {
	defer func() {
		if err := watcher.Stop(); err != nil {
			n.log.Debug().Err(err).Str("key", key).Msg("Failed to stop watcher")
		}

		close(ch)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}

			// nil marks the end of the initial values.
			if entry == nil {
				continue
			}

			var value []byte
			if entry.Operation() == jetstream.KeyValuePut {
				value = entry.Value()
			}

			select {
			case ch <- value:
			case <-ctx.Done():
				return
			case <-n.ctx.Done():
				return
			}
		}
	}
}

// Close stops watchers and, when the store dialled it, the connection.
func (n *NatsStore) Close() error {
	n.cancel()

	if n.ownsNC {
		n.nc.Close()
	}

	return nil
}
