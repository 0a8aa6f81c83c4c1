package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNoopProvider(t *testing.T) {
	var p NoopProvider
	ctx := context.Background()

	if err := p.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("get err = %v, want cache miss", err)
	}
	claimed, err := p.SetNX(ctx, "k", []byte("v"), time.Minute)
	if err != nil {
		t.Fatalf("setnx: %v", err)
	}
	if !claimed {
		t.Fatalf("noop SetNX must always claim")
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSetArgs(t *testing.T) {
	got := setArgs("k", []byte("v"), 90*time.Second, false)
	want := []string{"SET", "k", "v", "PX", "90000"}
	if len(got) != len(want) {
		t.Fatalf("args = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	nx := setArgs("k", []byte("v"), 0, true)
	if nx[len(nx)-1] != "NX" {
		t.Fatalf("nx args = %v", nx)
	}
	if len(nx) != 4 {
		t.Fatalf("zero ttl must omit PX: %v", nx)
	}
}

func TestNewValkeyProviderRequiresAddr(t *testing.T) {
	if _, err := NewValkeyProvider(ValkeyConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
