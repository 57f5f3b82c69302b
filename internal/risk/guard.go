// Package risk tracks per-IP abuse signals and places temporary blocks.
//
// Two signals feed the same blocklist key rl:block:<ip>:
//
//   - device enumeration: too many distinct device ids from one IP within a window
//   - error score: failed responses weighted by status and summed over a sliding window
//
// The block value records which signal fired so callers can report it.
package risk

import (
	"context"
	"strconv"
	"time"

	"github.com/campuskit/trustguard/kv"
)

// BlockReason names the signal that blocked an IP.
type BlockReason string

const (
	ReasonEnumeration BlockReason = "enumeration"
	ReasonRisk        BlockReason = "risk"
)

// Config holds thresholds and windows.
type Config struct {
	EnumerationWindow    time.Duration
	EnumerationThreshold int64
	EnumerationBlock     time.Duration
	ScoreWindow          time.Duration
	ScoreThreshold       int64
	ScoreBlock           time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		EnumerationWindow:    5 * time.Minute,
		EnumerationThreshold: 100,
		EnumerationBlock:     time.Hour,
		ScoreWindow:          5 * time.Minute,
		ScoreThreshold:       16,
		ScoreBlock:           10 * time.Minute,
	}
}

// Block describes an active block.
type Block struct {
	Reason BlockReason
	TTL    time.Duration
}

// Guard reads and writes risk state in a [kv.Store].
type Guard struct {
	store kv.Store
	cfg   Config
}

// New returns a Guard.
func New(store kv.Store, cfg Config) *Guard {
	return &Guard{store: store, cfg: cfg}
}

func enumKey(ip string) string  { return "rl:enum:" + ip }
func riskKey(ip string) string  { return "rl:risk:" + ip }
func blockKey(ip string) string { return "rl:block:" + ip }

// Weight returns the score contribution of a response status.
func Weight(status int) int64 {
	switch {
	case status == 401 || status == 403:
		return 2
	case status >= 400 && status < 500:
		return 1
	case status >= 500 && status < 600:
		return 1
	default:
		return 0
	}
}

// TrackDevice records deviceID as seen from ip. It reports whether this call pushed the
// distinct-device count past the threshold and blocked the IP.
func (g *Guard) TrackDevice(ctx context.Context, ip, deviceID string) (bool, error) {
	if ip == "" || deviceID == "" {
		return false, nil
	}
	n, err := g.store.AddToSetWithExpiry(ctx, enumKey(ip), deviceID, g.cfg.EnumerationWindow)
	if err != nil {
		return false, err
	}
	if n <= g.cfg.EnumerationThreshold {
		return false, nil
	}
	if err := g.block(ctx, ip, ReasonEnumeration, g.cfg.EnumerationBlock); err != nil {
		return false, err
	}
	return true, nil
}

// RecordResponse adds the weight of status to the IP's score. Scores never decay
// except by expiry; each add re-arms the window. It returns the new score and whether
// the IP is now blocked for risk.
func (g *Guard) RecordResponse(ctx context.Context, ip string, status int) (int64, bool, error) {
	w := Weight(status)
	if ip == "" || w == 0 {
		return 0, false, nil
	}
	score, err := g.store.IncrementBySliding(ctx, riskKey(ip), w, g.cfg.ScoreWindow)
	if err != nil {
		return 0, false, err
	}
	if score < g.cfg.ScoreThreshold {
		return score, false, nil
	}
	if err := g.block(ctx, ip, ReasonRisk, g.cfg.ScoreBlock); err != nil {
		return score, false, err
	}
	return score, true, nil
}

// block places a block unless a longer one is already in force.
func (g *Guard) block(ctx context.Context, ip string, reason BlockReason, ttl time.Duration) error {
	cur, ok, err := g.Blocked(ctx, ip)
	if err != nil {
		return err
	}
	if ok && cur.TTL >= ttl {
		return nil
	}
	return g.store.SetWithExpiry(ctx, blockKey(ip), string(reason), ttl)
}

// Blocked returns the active block on ip, if any.
func (g *Guard) Blocked(ctx context.Context, ip string) (Block, bool, error) {
	if ip == "" {
		return Block{}, false, nil
	}
	v, ok, err := g.store.Get(ctx, blockKey(ip))
	if err != nil || !ok {
		return Block{}, false, err
	}
	ttl, err := g.store.TTL(ctx, blockKey(ip))
	if err != nil {
		return Block{}, false, err
	}
	return Block{Reason: BlockReason(v), TTL: ttl}, true, nil
}

// Score returns the current risk score for ip.
func (g *Guard) Score(ctx context.Context, ip string) (int64, error) {
	v, ok, err := g.store.Get(ctx, riskKey(ip))
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, kv.ErrWrongType
	}
	return n, nil
}

// Unblock clears the block, score and device set for ip.
func (g *Guard) Unblock(ctx context.Context, ip string) error {
	return g.store.Delete(ctx, blockKey(ip), riskKey(ip), enumKey(ip))
}
