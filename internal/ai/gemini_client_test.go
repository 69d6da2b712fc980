package ai

import (
	"context"
	"errors"
	"testing"
)

type fakeClient struct {
	token  string
	closed int
}

func (f *fakeClient) Close() error {
	f.closed++
	return nil
}

func newFakePool() *clientPool[*fakeClient] {
	return newClientPool(func(_ context.Context, token string) (*fakeClient, error) {
		if token == "" {
			return nil, errors.New("missing token")
		}
		return &fakeClient{token: token}, nil
	})
}

func TestClientPoolReusesClientForSameToken(t *testing.T) {
	pool := newFakePool()
	ctx := context.Background()

	a, releaseA, err := pool.acquire(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	b, releaseB, err := pool.acquire(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	releaseA()
	releaseB()

	if a != b {
		t.Fatal("expected the cached client to be reused")
	}
	if a.closed != 0 {
		t.Fatalf("current client closed %d times", a.closed)
	}
}

func TestClientPoolKeepsReplacedClientOpenWhileInUse(t *testing.T) {
	pool := newFakePool()
	ctx := context.Background()

	old, releaseOld, err := pool.acquire(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}

	// token rotated while a call on the old client is in flight
	fresh, releaseFresh, err := pool.acquire(ctx, "t2")
	if err != nil {
		t.Fatal(err)
	}
	if fresh == old {
		t.Fatal("expected a new client for the new token")
	}
	if old.closed != 0 {
		t.Fatal("old client closed while still in use")
	}

	releaseOld()
	releaseOld()
	if old.closed != 1 {
		t.Fatalf("old client closed %d times after release, want 1", old.closed)
	}

	releaseFresh()
	if fresh.closed != 0 {
		t.Fatal("current client should stay open")
	}

	pool.closeAll()
	if fresh.closed != 1 {
		t.Fatalf("closeAll closed current client %d times, want 1", fresh.closed)
	}
}

func TestClientPoolClosesIdleReplacedClient(t *testing.T) {
	pool := newFakePool()
	ctx := context.Background()

	old, release, _ := pool.acquire(ctx, "t1")
	release()
	if _, release2, err := pool.acquire(ctx, "t2"); err != nil {
		t.Fatal(err)
	} else {
		release2()
	}
	if old.closed != 1 {
		t.Fatalf("idle replaced client closed %d times, want 1", old.closed)
	}

	if _, _, err := pool.acquire(ctx, ""); err == nil {
		t.Fatal("expected dial error")
	}
}
