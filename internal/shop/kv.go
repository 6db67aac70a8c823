package shop

import (
	"context"
	"fmt"
)

// KV is the durable string store the shop state is written through to.
// Implementations must make a Set visible to every later Get.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Ping(ctx context.Context) error
}

type namespaced struct {
	kv     KV
	prefix string
}

// Namespace scopes kv to one session so a single backend can hold every
// session's "cart" and "compare" snapshots.
func Namespace(kv KV, sessionID string) KV {
	return namespaced{kv: kv, prefix: fmt.Sprintf("session:%s:", sessionID)}
}

func (n namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.kv.Get(ctx, n.prefix+key)
}

func (n namespaced) Set(ctx context.Context, key, value string) error {
	return n.kv.Set(ctx, n.prefix+key, value)
}

func (n namespaced) Ping(ctx context.Context) error {
	return n.kv.Ping(ctx)
}
