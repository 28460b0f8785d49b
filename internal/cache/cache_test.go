package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/arre-io/arre/internal/testutil"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewFromClient(client, testutil.NewTestLogger()), mr
}

func TestSetAndGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	data, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "value1" {
		t.Errorf("expected value1, got %s", data)
	}
}

func TestGet_Miss(t *testing.T) {
	c, _ := newTestCache(t)
	data, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if data != nil {
		t.Errorf("expected nil on miss, got %s", data)
	}
}

func TestGetJSON_SetJSON(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}

	if err := c.SetJSON(ctx, "obj", payload{Name: "arre"}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var got payload
	found, err := c.GetJSON(ctx, "obj", &got)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if !found || got.Name != "arre" {
		t.Errorf("expected to find {arre}, got found=%v value=%+v", found, got)
	}
}

func TestExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "ttl-key", []byte("x"), time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(2 * time.Second)

	data, err := c.Get(ctx, "ttl-key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if data != nil {
		t.Errorf("expected expired key to miss, got %s", data)
	}
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "gone", []byte("x"), time.Minute)
	if err := c.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	data, err := c.Get(ctx, "gone")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if data != nil {
		t.Errorf("expected deleted key to miss")
	}
}

func TestDeletePattern(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "flags:a", []byte("1"), time.Minute)
	_ = c.Set(ctx, "flags:b", []byte("2"), time.Minute)
	_ = c.Set(ctx, "stats:a", []byte("3"), time.Minute)

	if err := c.DeletePattern(ctx, "flags:*"); err != nil {
		t.Fatalf("DeletePattern: %v", err)
	}

	if data, _ := c.Get(ctx, "flags:a"); data != nil {
		t.Error("expected flags:a to be deleted")
	}
	if data, _ := c.Get(ctx, "flags:b"); data != nil {
		t.Error("expected flags:b to be deleted")
	}
	if data, _ := c.Get(ctx, "stats:a"); data == nil {
		t.Error("expected stats:a to survive pattern delete")
	}
}
