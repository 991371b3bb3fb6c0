package console

import (
	"context"
	"testing"

	"github.com/vela-systems/reactorhost/internal/compilecache"
	"github.com/vela-systems/reactorhost/internal/modulehost"
	"github.com/vela-systems/reactorhost/internal/storage/memdb"
)

func newTestConsole(t *testing.T) *Console {
	t.Helper()
	ctx := context.Background()
	cache, err := compilecache.New(4)
	if err != nil {
		t.Fatalf("compilecache.New: %v", err)
	}
	db := memdb.New()
	host, err := modulehost.New(ctx, cache, db, db, NewDispatcher(), nil)
	if err != nil {
		t.Fatalf("modulehost.New: %v", err)
	}
	t.Cleanup(func() { _ = host.Close(ctx) })

	c, err := New(host, "")
	if err != nil {
		t.Fatalf("console.New: %v", err)
	}
	t.Cleanup(func() { _ = c.rl.Close() })
	return c
}

func TestDispatchUnknownCommandErrors(t *testing.T) {
	c := newTestConsole(t)
	if err := c.dispatch("frobnicate"); err == nil {
		t.Fatal("dispatch of an unknown command returned nil error")
	}
}

func TestDispatchLoadRequiresPath(t *testing.T) {
	c := newTestConsole(t)
	if err := c.dispatch("load"); err == nil {
		t.Fatal("dispatch of \"load\" with no path returned nil error")
	}
}

func TestDispatchCallRequiresReducerID(t *testing.T) {
	c := newTestConsole(t)
	if err := c.dispatch("call"); err == nil {
		t.Fatal("dispatch of \"call\" with no reducer id returned nil error")
	}
	if err := c.dispatch("call notanumber"); err == nil {
		t.Fatal("dispatch of \"call\" with a non-numeric reducer id returned nil error")
	}
}

func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	c := newTestConsole(t)
	if err := c.dispatch("subscribe"); err != nil {
		t.Fatalf("dispatch(subscribe): %v", err)
	}
	if err := c.dispatch("unsubscribe"); err != nil {
		t.Fatalf("dispatch(unsubscribe): %v", err)
	}
}

func TestTwoConsolesGetDistinctDefaultSubscribers(t *testing.T) {
	a := newTestConsole(t)
	b := newTestConsole(t)
	if a.defaultSub == b.defaultSub {
		t.Fatal("two independently constructed consoles share a default subscriber id")
	}
}
