package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// KV stores runtime settings in Redis under a namespace prefix so several
// wallet runtimes can share one instance.
type KV struct {
	client    *redis.Client
	namespace string
}

func NewKV(url, namespace string) (*KV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewKVFromClient(client, namespace), nil
}

// NewKVFromClient wraps an existing client.
func NewKVFromClient(client *redis.Client, namespace string) *KV {
	return &KV{client: client, namespace: namespace}
}

func (kv *KV) key(k string) string {
	if kv.namespace == "" {
		return k
	}
	return kv.namespace + ":" + k
}

func (kv *KV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := kv.client.Get(ctx, kv.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (kv *KV) Set(ctx context.Context, key, value string) error {
	if err := kv.client.Set(ctx, kv.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (kv *KV) Delete(ctx context.Context, key string) error {
	if err := kv.client.Del(ctx, kv.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (kv *KV) Close() error {
	return kv.client.Close()
}

func (kv *KV) Client() *redis.Client {
	return kv.client
}
