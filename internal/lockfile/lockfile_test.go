package lockfile

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithExclusiveRunsFnAndReleases(t *testing.T) {
	dir := t.TempDir()
	lock, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ran := false
	err = lock.WithExclusive(context.Background(), func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithExclusive: %v", err)
	}
	if !ran {
		t.Fatal("expected fn to run")
	}

	// The lock must be released afterward: a second acquisition should
	// succeed immediately rather than block.
	ran2 := false
	err = lock.WithExclusive(context.Background(), func() error {
		ran2 = true
		return nil
	})
	if err != nil {
		t.Fatalf("second WithExclusive: %v", err)
	}
	if !ran2 {
		t.Fatal("expected fn to run again after release")
	}
}

func TestWithExclusivePropagatesFnError(t *testing.T) {
	dir := t.TempDir()
	lock, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sentinel := errors.New("boom")
	err = lock.WithExclusive(context.Background(), func() error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected the sentinel error to propagate, got %v", err)
	}
}

func TestWithExclusiveBlocksConcurrentHolder(t *testing.T) {
	dir := t.TempDir()
	lockA, err := New(dir)
	if err != nil {
		t.Fatalf("New (a): %v", err)
	}
	lockB, err := New(dir)
	if err != nil {
		t.Fatalf("New (b): %v", err)
	}

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = lockA.WithExclusive(context.Background(), func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = lockB.WithExclusive(ctx, func() error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a second locker to block until timeout, got %v", err)
	}
	close(release)
}
