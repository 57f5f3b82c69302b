// trustguard-loadtest drives the admission path and session rotation against Redis
// and reports latency percentiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/campuskit/trustguard"
	"github.com/campuskit/trustguard/internal/users"
	"github.com/campuskit/trustguard/password"
	"github.com/campuskit/trustguard/session"
)

type sessionState struct {
	deviceID  string
	accountID string
	hash      string
	mu        sync.Mutex
}

func main() {
	var (
		sessions    = flag.Int("sessions", 20000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (decide + rotate)")
		ips         = flag.Int("ips", 5000, "distinct client IPs in the decide phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "tg:sess", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 || *ips <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, ops and ips must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := trustguard.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("loadtest-signing-key-not-for-production")
	cfg.Device.CookieKey = []byte("loadtest-cookie-key-not-for-production!")
	cfg.Password = trustguard.PasswordConfig(password.MinimumConfig())
	cfg.RefreshDigest = trustguard.PasswordConfig(password.MinimumConfig())
	cfg.RateLimit.FailOpen = false
	cfg.Session.RedisPrefix = *prefix

	engine, err := trustguard.New().WithConfig(cfg).WithRedis(client).WithUserProvider(users.NewMemory()).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	store := session.NewRedisStore(client, *prefix)
	states := make([]sessionState, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := 0; i < *sessions; i++ {
		st := &states[i]
		st.deviceID = uuid.NewString()
		st.accountID = "acct-" + strconv.Itoa(i)
		st.hash = hashFor(i, 0)
		now := time.Now()
		if _, err := store.Upsert(ctx, &session.AuthSession{
			DeviceID:           st.deviceID,
			AccountID:          st.accountID,
			UserID:             "user-" + strconv.Itoa(i),
			HashedRefreshToken: st.hash,
			CreatedAt:          now,
			UpdatedAt:          now,
			ExpiresAt:          now.Add(24 * time.Hour),
		}); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	decideStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand, i int) bool {
		st := &states[r.Intn(len(states))]
		d, err := engine.Decide(ctx, trustguard.AccessRequest{
			IP:    "10.0." + strconv.Itoa(r.Intn(*ips)/256) + "." + strconv.Itoa(r.Intn(*ips)%256),
			Trust: trustguard.TrustResult{Tier: trustguard.TierDeviceCookieVerified, DeviceID: st.deviceID},
		})
		return err == nil && d.Allowed
	})
	rotateStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand, i int) bool {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		next := hashFor(i, r.Int())
		now := time.Now()
		_, err := store.Rotate(ctx, st.deviceID, st.accountID, st.hash, session.Rotation{
			HashedRefreshToken: next,
			UpdatedAt:          now,
			ExpiresAt:          now.Add(24 * time.Hour),
		})
		if err != nil {
			return false
		}
		st.hash = next
		return true
	})

	fmt.Println("---- results ----")
	printStats("decide", decideStats)
	printStats("rotate", rotateStats)
}

// runPhase runs ops calls of op across concurrency workers. op reports success. Each
// call owns latencies[i], so workers never contend on the sample slice.
func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand, i int) bool) phaseStats {
	var (
		wg       sync.WaitGroup
		next     atomic.Int64
		failures atomic.Int64
	)
	latencies := make([]time.Duration, ops)

	start := time.Now()
	for w := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed*int64(w+1) ^ start.UnixNano()))
			for i := int(next.Add(1) - 1); i < ops; i = int(next.Add(1) - 1) {
				began := time.Now()
				if !op(r, i) {
					failures.Add(1)
				}
				latencies[i] = time.Since(began)
			}
		}()
	}
	wg.Wait()
	return summarize(time.Since(start), latencies, failures.Load())
}

type phaseStats struct {
	elapsed  time.Duration
	ops      int
	failures int64
	// quantiles holds p50, p95 and p99 in that order.
	quantiles [3]time.Duration
}

var reportedPercentiles = [3]int{50, 95, 99}

func summarize(elapsed time.Duration, samples []time.Duration, failures int64) phaseStats {
	st := phaseStats{elapsed: elapsed, ops: len(samples), failures: failures}
	if len(samples) == 0 {
		return st
	}
	slices.Sort(samples)
	for i, p := range reportedPercentiles {
		st.quantiles[i] = samples[(len(samples)-1)*p/100]
	}
	return st
}

func (s phaseStats) throughput() float64 {
	if s.elapsed <= 0 {
		return 0
	}
	return float64(s.ops) / s.elapsed.Seconds()
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%-7s ops=%d denied_or_failed=%d elapsed=%s ops/sec=%.0f",
		name, s.ops, s.failures, s.elapsed.Round(time.Millisecond), s.throughput())
	for i, p := range reportedPercentiles {
		fmt.Printf(" p%d=%s", p, s.quantiles[i].Round(time.Microsecond))
	}
	fmt.Println()
}

// hashFor returns a stand-in digest; rotation only compares strings.
func hashFor(i, salt int) string {
	return "h" + strconv.Itoa(i) + "-" + strconv.Itoa(salt)
}
