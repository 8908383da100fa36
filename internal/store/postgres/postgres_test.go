package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"caseclosed/backend/internal/store"
)

func TestRetrySerializableRerunsSerializationFailures(t *testing.T) {
	calls := 0
	err := retrySerializable(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("apply payment: %w", &pgconn.PgError{Code: "40001"})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetrySerializableGivesUpAfterBoundedAttempts(t *testing.T) {
	calls := 0
	err := retrySerializable(context.Background(), func() error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	if !isSerializationFailure(err) {
		t.Fatalf("expected the last serialization failure, got %v", err)
	}
	if calls != serializableAttempts {
		t.Fatalf("expected %d attempts, got %d", serializableAttempts, calls)
	}
}

func TestRetrySerializableDoesNotRetryDomainErrors(t *testing.T) {
	for _, want := range []error{store.ErrInvalidTransition, store.ErrNotFound, &pgconn.PgError{Code: "23505"}} {
		calls := 0
		err := retrySerializable(context.Background(), func() error {
			calls++
			return want
		})
		if !errors.Is(err, want) || calls != 1 {
			t.Fatalf("expected %v once, got %v after %d calls", want, err, calls)
		}
	}
}

func TestRetrySerializableStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := retrySerializable(ctx, func() error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("expected cancellation after one attempt, got %v after %d calls", err, calls)
	}
}
