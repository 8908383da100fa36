package cache

import (
	"context"
	"errors"
	"time"

	"caseclosed/backend/internal/domain"
)

// ErrLockHeld is returned by TryLock when another holder owns the key.
var ErrLockHeld = errors.New("lock held elsewhere")

type AccountCache interface {
	Get(ctx context.Context) (*domain.BankDetails, bool, error)
	Set(ctx context.Context, details domain.BankDetails, ttl time.Duration) error
}

// Unlocker releases a lock obtained from a Locker.
type Unlocker func(ctx context.Context) error

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlocker, error)
}

type NoopAccountCache struct{}

func (NoopAccountCache) Get(_ context.Context) (*domain.BankDetails, bool, error) {
	return nil, false, nil
}

func (NoopAccountCache) Set(_ context.Context, _ domain.BankDetails, _ time.Duration) error {
	return nil
}

// LocalLocker only guards against overlap inside one process.
type LocalLocker struct {
	held chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(chan struct{}, 1)}
}

func (l *LocalLocker) TryLock(_ context.Context, _ string, _ time.Duration) (Unlocker, error) {
	select {
	case l.held <- struct{}{}:
		return func(context.Context) error {
			<-l.held
			return nil
		}, nil
	default:
		return nil, ErrLockHeld
	}
}
