// SPDX-License-Identifier: MIT

package gwcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	cache := New(Config{TTL: time.Minute, MaxEntries: 10})
	entry := Entry{Status: 200, Headers: map[string]string{"content-type": "application/json"}, Body: []byte(`{}`), BodyLen: 2}

	cache.Set(context.Background(), "radio:/stations", entry)
	got, found := cache.Get(context.Background(), "radio:/stations")
	require.True(t, found)
	assert.Equal(t, entry.Status, got.Status)
	assert.Equal(t, entry.Body, got.Body)

	_, found = cache.Get(context.Background(), "radio:/other")
	assert.False(t, found)
}

func TestMemoryTTLExpiry(t *testing.T) {
	cache := New(Config{TTL: 10 * time.Millisecond, MaxEntries: 10})
	cache.Set(context.Background(), "key", Entry{Status: 200})

	time.Sleep(25 * time.Millisecond)
	_, found := cache.Get(context.Background(), "key")
	assert.False(t, found)
	assert.Equal(t, 0, cache.Len())
}

func TestMemoryBoundedEntries(t *testing.T) {
	cache := New(Config{TTL: time.Minute, MaxEntries: 10})
	for i := 0; i < 50; i++ {
		cache.Set(context.Background(), fmt.Sprintf("key-%d", i), Entry{Status: 200})
	}
	assert.LessOrEqual(t, cache.Len(), 10)
}

func TestRejectsOversizedBody(t *testing.T) {
	cache := New(Config{TTL: time.Minute, MaxEntries: 10})
	big := Entry{Status: 200, Body: make([]byte, MaxBodyBytes+1), BodyLen: MaxBodyBytes + 1}

	cache.Set(context.Background(), "big", big)
	_, found := cache.Get(context.Background(), "big")
	assert.False(t, found)
}

func TestRedisMirror(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	writer := New(Config{TTL: time.Minute, MaxEntries: 10, Redis: client, RedisPrefix: "gw:"})
	entry := Entry{Status: 200, Headers: map[string]string{"content-type": "application/json"}, Body: []byte(`{"a":1}`), BodyLen: 7}
	writer.Set(context.Background(), "radio:/stations", entry)

	// A fresh process with an empty memory layer reads through the mirror.
	reader := New(Config{TTL: time.Minute, MaxEntries: 10, Redis: client, RedisPrefix: "gw:"})
	got, found := reader.Get(context.Background(), "radio:/stations")
	require.True(t, found)
	assert.Equal(t, entry.Body, got.Body)
	assert.Equal(t, 1, reader.Len())
}
