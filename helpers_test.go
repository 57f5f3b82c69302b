package trustguard

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/campuskit/trustguard/password"
)

type memUserProvider struct {
	mu         sync.Mutex
	byID       map[string]Identity
	byLogin    map[string]Account
	nextID     int
	failLookup bool
}

func newMemUserProvider() *memUserProvider {
	return &memUserProvider{
		byID:    map[string]Identity{},
		byLogin: map[string]Account{},
	}
}

// addAccount registers an account owned by userID. An empty passwordHash makes the
// account reachable only through LoginVerified.
func (p *memUserProvider) addAccount(accountID, userID, identifier, passwordHash string, school string, limited bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[accountID] = Identity{
		UserID:        userID,
		AccountID:     accountID,
		SchoolAbbr:    school,
		SchoolLimited: limited,
		Name:          "user " + userID,
		Provider:      "password",
		JoinedAt:      time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
	}
	if identifier != "" {
		p.byLogin[identifier] = Account{ID: accountID, PasswordHash: passwordHash}
	}
}

func (p *memUserProvider) FindAccountByIdentifier(_ context.Context, identifier string) (Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.byLogin[identifier]
	if !ok {
		return Account{}, ErrUserNotFound
	}
	return acc, nil
}

func (p *memUserProvider) FindUserBySubject(_ context.Context, accountID string) (Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failLookup {
		return Identity{}, ErrUserNotFound
	}
	id, ok := p.byID[accountID]
	if !ok {
		return Identity{}, ErrUserNotFound
	}
	return id, nil
}

func (p *memUserProvider) CreateAccount(_ context.Context, req RegisterRequest, passwordHash string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byLogin[req.Identifier]; ok {
		return "", ErrAccountExists
	}
	p.nextID++
	accountID := "new-" + strconv.Itoa(p.nextID)
	p.byLogin[req.Identifier] = Account{ID: accountID, PasswordHash: passwordHash}
	p.byID[accountID] = Identity{UserID: "u-" + accountID, AccountID: accountID, Name: req.Name, Provider: "password"}
	return accountID, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("test-signing-key-0123456789abcdef")
	cfg.Device.CookieKey = []byte("test-device-cookie-key-0123456789")
	cfg.Password = PasswordConfig(password.MinimumConfig())
	cfg.RefreshDigest = PasswordConfig(password.MinimumConfig())
	return cfg
}

type testEngine struct {
	*Engine
	users *memUserProvider
	mr    *miniredis.Miniredis
	rdb   *redis.Client
}

func newTestEngine(t testing.TB, cfg Config, opts ...func(*Builder)) *testEngine {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	users := newMemUserProvider()

	b := New().WithConfig(cfg).WithRedis(rdb).WithUserProvider(users)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return &testEngine{Engine: engine, users: users, mr: mr, rdb: rdb}
}

func (te *testEngine) hash(t testing.TB, secret string) string {
	t.Helper()
	h, err := te.passwords.Hash(secret)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return h
}
