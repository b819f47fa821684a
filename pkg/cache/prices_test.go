package cache

import (
	"testing"
	"time"
)

func TestPriceCacheFreshness(t *testing.T) {
	now := time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC)
	c := NewPriceCache(func() time.Time { return now })

	c.Set("BTCUSDT", 100000)
	if px, ok := c.GetFresh("BTCUSDT", time.Second); !ok || px != 100000 {
		t.Fatalf("GetFresh=%v,%v, expected 100000,true", px, ok)
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.GetFresh("BTCUSDT", time.Second); ok {
		t.Fatalf("stale price returned as fresh")
	}
	if px, ok := c.Get("BTCUSDT"); !ok || px != 100000 {
		t.Fatalf("Get=%v,%v, expected stale value", px, ok)
	}
	if _, ok := c.GetFresh("ETHUSDT", 0); ok {
		t.Fatalf("missing symbol reported present")
	}

	c.Set("ETHUSDT", 2000)
	if removed := c.Cleanup(time.Second); removed != 1 {
		t.Fatalf("Cleanup removed %d, expected 1", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("Len=%d, expected 1", c.Len())
	}
	if snap := c.Snapshot(); snap["ETHUSDT"] != 2000 {
		t.Fatalf("unexpected snapshot %v", snap)
	}
}
