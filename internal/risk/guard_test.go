package risk

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/campuskit/trustguard/kv"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newGuard() (*Guard, *clock) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	return New(kv.NewMemoryStoreWithClock(c.Now), DefaultConfig()), c
}

func TestWeight(t *testing.T) {
	cases := map[int]int64{200: 0, 204: 0, 302: 0, 400: 1, 401: 2, 403: 2, 404: 1, 429: 1, 500: 1, 503: 1}
	for status, want := range cases {
		if got := Weight(status); got != want {
			t.Fatalf("Weight(%d) = %d, want %d", status, got, want)
		}
	}
}

func TestEnumerationBlocksAfterThreshold(t *testing.T) {
	g, _ := newGuard()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		blocked, err := g.TrackDevice(ctx, "1.2.3.4", fmt.Sprintf("dev-%d", i))
		if err != nil {
			t.Fatalf("track %d: %v", i, err)
		}
		if blocked {
			t.Fatalf("blocked too early at device %d", i)
		}
	}
	blocked, err := g.TrackDevice(ctx, "1.2.3.4", "dev-100")
	if err != nil || !blocked {
		t.Fatalf("expected block on 101st device, got %v, %v", blocked, err)
	}

	b, ok, err := g.Blocked(ctx, "1.2.3.4")
	if err != nil || !ok || b.Reason != ReasonEnumeration {
		t.Fatalf("blocked = %+v, %v, %v", b, ok, err)
	}
	if b.TTL <= 59*time.Minute || b.TTL > time.Hour {
		t.Fatalf("expected ~1h block, got %v", b.TTL)
	}

	if _, ok, _ := g.Blocked(ctx, "5.6.7.8"); ok {
		t.Fatal("other IPs must not be blocked")
	}
}

func TestRepeatedDeviceDoesNotCount(t *testing.T) {
	g, _ := newGuard()
	ctx := context.Background()
	for i := 0; i < 500; i++ {
		if blocked, err := g.TrackDevice(ctx, "1.2.3.4", "same-device"); err != nil || blocked {
			t.Fatalf("unexpected block for repeated device: %v, %v", blocked, err)
		}
	}
}

func TestEnumerationWindowExpires(t *testing.T) {
	g, c := newGuard()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if _, err := g.TrackDevice(ctx, "1.2.3.4", fmt.Sprintf("dev-%d", i)); err != nil {
			t.Fatalf("track: %v", err)
		}
	}
	c.Advance(6 * time.Minute)
	if blocked, err := g.TrackDevice(ctx, "1.2.3.4", "dev-new"); err != nil || blocked {
		t.Fatalf("expected fresh window, got %v, %v", blocked, err)
	}
}

func TestRiskScoreBlocksAtThreshold(t *testing.T) {
	g, _ := newGuard()
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		score, blocked, err := g.RecordResponse(ctx, "9.9.9.9", 401)
		if err != nil || blocked || score != int64(2*i) {
			t.Fatalf("401 #%d: score=%d blocked=%v err=%v", i, score, blocked, err)
		}
	}
	score, blocked, err := g.RecordResponse(ctx, "9.9.9.9", 401)
	if err != nil || !blocked || score != 16 {
		t.Fatalf("8th 401: score=%d blocked=%v err=%v", score, blocked, err)
	}

	b, ok, err := g.Blocked(ctx, "9.9.9.9")
	if err != nil || !ok || b.Reason != ReasonRisk {
		t.Fatalf("blocked = %+v, %v, %v", b, ok, err)
	}
	if b.TTL > 10*time.Minute || b.TTL < 9*time.Minute {
		t.Fatalf("expected ~10m block, got %v", b.TTL)
	}
}

func TestSingle404DoesNotBlock(t *testing.T) {
	g, _ := newGuard()
	ctx := context.Background()
	score, blocked, err := g.RecordResponse(ctx, "9.9.9.9", 404)
	if err != nil || blocked || score != 1 {
		t.Fatalf("score=%d blocked=%v err=%v", score, blocked, err)
	}
	if _, ok, _ := g.Blocked(ctx, "9.9.9.9"); ok {
		t.Fatal("single 404 must not block")
	}
}

func TestSuccessDoesNotDecayScore(t *testing.T) {
	g, _ := newGuard()
	ctx := context.Background()
	if _, _, err := g.RecordResponse(ctx, "9.9.9.9", 500); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, _, err := g.RecordResponse(ctx, "9.9.9.9", 200); err != nil {
		t.Fatalf("record: %v", err)
	}
	score, err := g.Score(ctx, "9.9.9.9")
	if err != nil || score != 1 {
		t.Fatalf("score = %d, %v", score, err)
	}
}

func TestScoreSlidesWithEachAdd(t *testing.T) {
	g, c := newGuard()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, _, err := g.RecordResponse(ctx, "9.9.9.9", 403); err != nil {
			t.Fatalf("record: %v", err)
		}
		c.Advance(4 * time.Minute)
	}
	score, err := g.Score(ctx, "9.9.9.9")
	if err != nil || score != 6 {
		t.Fatalf("expected sliding window to keep score 6, got %d, %v", score, err)
	}
	c.Advance(2 * time.Minute)
	score, err = g.Score(ctx, "9.9.9.9")
	if err != nil || score != 0 {
		t.Fatalf("expected score expired, got %d, %v", score, err)
	}
}

func TestRiskBlockDoesNotShortenEnumerationBlock(t *testing.T) {
	g, _ := newGuard()
	ctx := context.Background()
	for i := 0; i <= 100; i++ {
		if _, err := g.TrackDevice(ctx, "1.1.1.1", fmt.Sprintf("d%d", i)); err != nil {
			t.Fatalf("track: %v", err)
		}
	}
	for i := 0; i < 8; i++ {
		if _, _, err := g.RecordResponse(ctx, "1.1.1.1", 403); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	b, ok, err := g.Blocked(ctx, "1.1.1.1")
	if err != nil || !ok || b.Reason != ReasonEnumeration || b.TTL < 59*time.Minute {
		t.Fatalf("expected enumeration block kept, got %+v %v %v", b, ok, err)
	}
}

func TestUnblockClearsState(t *testing.T) {
	g, _ := newGuard()
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		if _, _, err := g.RecordResponse(ctx, "9.9.9.9", 401); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := g.Unblock(ctx, "9.9.9.9"); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if _, ok, _ := g.Blocked(ctx, "9.9.9.9"); ok {
		t.Fatal("expected unblocked")
	}
	if score, _ := g.Score(ctx, "9.9.9.9"); score != 0 {
		t.Fatalf("expected score reset, got %d", score)
	}
}
