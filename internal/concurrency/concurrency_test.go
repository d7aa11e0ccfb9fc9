package concurrency

import (
	"context"
	"sync"
	"testing"

	gateway "github.com/cfx-labs/cfx-router/internal"
)

type userStoreFake struct {
	users map[string]*gateway.User
}

func (f *userStoreFake) GetUserLimits(_ context.Context, userID string) (*gateway.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return u, nil
}

func newLimiter(defaultCap int, users ...*gateway.User) *Limiter {
	f := &userStoreFake{users: make(map[string]*gateway.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return NewLimiter(f, defaultCap)
}

func TestAcquireRespectsCapacity(t *testing.T) {
	t.Parallel()

	l := newLimiter(2)
	ctx := context.Background()

	if !l.Acquire(ctx, "user-1") {
		t.Fatal("first acquire should succeed")
	}
	if !l.Acquire(ctx, "user-1") {
		t.Fatal("second acquire should succeed")
	}
	if l.Acquire(ctx, "user-1") {
		t.Error("third acquire should be refused at cap 2")
	}
	if got := l.Active("user-1"); got != 2 {
		t.Errorf("active = %d, want 2", got)
	}

	// Users do not share slots.
	if !l.Acquire(ctx, "user-2") {
		t.Error("another user's acquire should succeed")
	}
}

func TestReleaseFreesSlot(t *testing.T) {
	t.Parallel()

	l := newLimiter(1)
	ctx := context.Background()

	if !l.Acquire(ctx, "user-1") {
		t.Fatal("acquire failed")
	}
	if l.Acquire(ctx, "user-1") {
		t.Fatal("second acquire should be refused at cap 1")
	}

	l.Release("user-1")
	if !l.Acquire(ctx, "user-1") {
		t.Error("acquire after release should succeed")
	}
}

func TestReleaseClampsAtZero(t *testing.T) {
	t.Parallel()

	l := newLimiter(1)

	l.Release("user-1")
	l.Release("user-1")
	if got := l.Active("user-1"); got != 0 {
		t.Errorf("active after surplus releases = %d, want 0", got)
	}

	// The clamp must not have created phantom capacity.
	ctx := context.Background()
	if !l.Acquire(ctx, "user-1") {
		t.Fatal("acquire failed")
	}
	if l.Acquire(ctx, "user-1") {
		t.Error("cap 1 exceeded after surplus releases")
	}
}

func TestCapResolution(t *testing.T) {
	t.Parallel()

	override := 9
	l := newLimiter(3,
		&gateway.User{ID: "starter", Plan: gateway.PlanStarter},
		&gateway.User{ID: "pro", Plan: gateway.PlanPro},
		&gateway.User{ID: "agency", Plan: gateway.PlanAgency},
		&gateway.User{ID: "override", Plan: gateway.PlanStarter, StreamingConcurrencyCap: &override},
	)

	tests := []struct {
		userID string
		want   int
	}{
		{"starter", 1},
		{"pro", 2},
		{"agency", 5},
		{"override", 9},
		{"unknown", 3},
	}
	for _, tt := range tests {
		if got := l.Cap(context.Background(), tt.userID); got != tt.want {
			t.Errorf("Cap(%s) = %d, want %d", tt.userID, got, tt.want)
		}
	}
}

func TestAcquireConcurrent(t *testing.T) {
	t.Parallel()

	const capacity = 5
	l := newLimiter(capacity)
	ctx := context.Background()

	var wg sync.WaitGroup
	granted := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			granted <- l.Acquire(ctx, "user-1")
		}()
	}
	wg.Wait()
	close(granted)

	var n int
	for ok := range granted {
		if ok {
			n++
		}
	}
	if n != capacity {
		t.Errorf("granted %d slots, want exactly %d", n, capacity)
	}
	if got := l.Active("user-1"); got != capacity {
		t.Errorf("active = %d, want %d", got, capacity)
	}
}
