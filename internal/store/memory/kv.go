package memory

import (
	"context"
	"sync"
)

// KV keeps settings in process memory.
type KV struct {
	mu     sync.Mutex
	values map[string]string
}

func NewKV() *KV {
	return &KV{values: make(map[string]string)}
}

func (kv *KV) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.values[key]
	return v, ok, nil
}

func (kv *KV) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kv.mu.Lock()
	kv.values[key] = value
	kv.mu.Unlock()
	return nil
}

func (kv *KV) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kv.mu.Lock()
	delete(kv.values, key)
	kv.mu.Unlock()
	return nil
}

// Close drops every value.
func (kv *KV) Close() error {
	kv.mu.Lock()
	kv.values = make(map[string]string)
	kv.mu.Unlock()
	return nil
}
