package store

import "context"

// Store is the odometer-class non-volatile key-value record that
// survives a simulated reboot. Controllers must tolerate a cold start
// where a key has never been written: Get reports absence, not an error.
type Store interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
