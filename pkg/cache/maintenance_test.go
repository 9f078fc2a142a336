package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pario-ai/costgate/pkg/models"
)

func TestMaintainerRunOnce(t *testing.T) {
	c, clk := newTestCache(t, time.Hour)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		ttl := time.Duration(0)
		if i < 2 {
			ttl = time.Minute
		}
		r := Request{Messages: chat(fmt.Sprintf("m%d", i)), Provider: "openai", Model: "gpt-4o"}
		if err := c.PutWithTTL(ctx, r, models.Response{Content: "x"}, ttl); err != nil {
			t.Fatal(err)
		}
	}
	clk.Advance(time.Hour)

	m := NewMaintainer(c, "", 3, zerolog.Nop())
	res, err := m.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Expired != 2 {
		t.Errorf("expected 2 expired, got %d", res.Expired)
	}
	if res.Evicted != 1 {
		t.Errorf("expected 1 evicted, got %d", res.Evicted)
	}
	if n, _ := c.store.Count(ctx); n != 3 {
		t.Errorf("expected 3 entries left, got %d", n)
	}
}

func TestMaintainerNoSizeCap(t *testing.T) {
	c, _ := newTestCache(t, 0)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_ = c.Put(ctx, Request{Messages: chat(fmt.Sprintf("m%d", i)), Provider: "openai", Model: "gpt-4o"}, models.Response{Content: "x"})
	}

	res, err := NewMaintainer(c, "", 0, zerolog.Nop()).RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Evicted != 0 {
		t.Errorf("expected no eviction with cap 0, got %d", res.Evicted)
	}
}

func TestMaintainerSchedule(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)

	if err := NewMaintainer(c, "not a schedule", 10, zerolog.Nop()).Start(context.Background()); err == nil {
		t.Error("expected error for invalid schedule")
	}

	idle := NewMaintainer(c, "", 10, zerolog.Nop())
	if err := idle.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if idle.NextRun() != nil {
		t.Error("expected no next run without a schedule")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMaintainer(c, "@every 1h", 10, zerolog.Nop())
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	m.Stop()
	if m.NextRun() != nil {
		t.Error("expected no next run after stop")
	}
}

func TestMaintainerStartTwiceAndRestart(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	m := NewMaintainer(c, "@every 1h", 10, zerolog.Nop())

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(m.cron.Entries()); n != 1 {
		t.Errorf("expected 1 scheduled job after double start, got %d", n)
	}

	done := m.done
	m.Stop()
	select {
	case <-done:
	default:
		t.Fatal("expected Stop to release the watcher goroutine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(m.cron.Entries()); n != 1 {
		t.Errorf("expected 1 scheduled job after restart, got %d", n)
	}
	if m.NextRun() == nil {
		t.Error("expected a next run while running")
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for m.NextRun() != nil {
		if time.Now().After(deadline) {
			t.Fatal("expected context cancel to stop the scheduler")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
