package trustguard

import (
	"context"
	"errors"
	"sync"
	"testing"
)

const testPassword = "correct-password-123"

func loginTestEngine(t *testing.T) *testEngine {
	t.Helper()
	te := newTestEngine(t, testConfig())
	hash := te.hash(t, testPassword)
	te.users.addAccount("A1", "U1", "alice@uni.edu", hash, "MIT", false)
	te.users.addAccount("A2", "U2", "bob@uni.edu", hash, "BU", true)
	return te
}

func (te *testEngine) login(t *testing.T, identifier, deviceID string) *LoginResult {
	t.Helper()
	res, err := te.Login(context.Background(), LoginRequest{
		Identifier: identifier,
		Password:   testPassword,
		DeviceID:   deviceID,
		Meta:       SessionMeta{IPAddress: "10.1.1.1", Browser: "Firefox"},
	})
	if err != nil {
		t.Fatalf("login %s on %s: %v", identifier, deviceID, err)
	}
	return res
}

func TestLoginIsIdempotentPerDeviceAccount(t *testing.T) {
	te := loginTestEngine(t)
	ctx := context.Background()

	first := te.login(t, "alice@uni.edu", "D1")
	if first.Identity.UserID != "U1" || first.Identity.AccountID != "A1" || first.Identity.SchoolAbbr != "MIT" {
		t.Fatalf("unexpected identity %+v", first.Identity)
	}
	if first.DeviceCookie == "" || first.RefreshToken == "" || first.AccessToken == "" {
		t.Fatalf("expected tokens and device cookie, got %+v", first.TokenPair)
	}
	if id, ok := te.VerifyDeviceCookie(first.DeviceCookie); !ok || id != "D1" {
		t.Fatalf("device cookie does not verify: %q %v", id, ok)
	}

	te.login(t, "alice@uni.edu", "D1")
	sessions, err := te.sessions.ListByDevice(ctx, "D1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected exactly one session after two logins, got %d", len(sessions))
	}
}

func TestLoginRejectsBadInput(t *testing.T) {
	te := loginTestEngine(t)
	ctx := context.Background()

	if _, err := te.Login(ctx, LoginRequest{Identifier: "alice@uni.edu", Password: testPassword}); !errors.Is(err, ErrDeviceIDRequired) {
		t.Fatalf("expected ErrDeviceIDRequired, got %v", err)
	}
	if _, err := te.Login(ctx, LoginRequest{Identifier: "alice@uni.edu", Password: testPassword, DeviceID: "bad id!"}); !errors.Is(err, ErrDeviceIDRequired) {
		t.Fatalf("expected ErrDeviceIDRequired for malformed id, got %v", err)
	}
	_, errWrong := te.Login(ctx, LoginRequest{Identifier: "alice@uni.edu", Password: "nope-nope-nope", DeviceID: "D1"})
	_, errUnknown := te.Login(ctx, LoginRequest{Identifier: "ghost@uni.edu", Password: testPassword, DeviceID: "D1"})
	if !errors.Is(errWrong, ErrInvalidCredentials) || !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Fatalf("expected identical invalid credentials errors, got %v / %v", errWrong, errUnknown)
	}
	if got := te.metrics.Value(MetricLoginFailure); got != 2 {
		t.Fatalf("expected 2 login failures counted, got %d", got)
	}
}

func TestLoginListsOtherAccountsOnDevice(t *testing.T) {
	te := loginTestEngine(t)

	te.login(t, "alice@uni.edu", "D1")
	res := te.login(t, "bob@uni.edu", "D1")
	if len(res.OtherAccounts) != 1 || res.OtherAccounts[0].UserID != "U1" {
		t.Fatalf("expected U1 listed as other account, got %+v", res.OtherAccounts)
	}
}

func TestRefreshReplayWipesDevice(t *testing.T) {
	te := loginTestEngine(t)
	ctx := context.Background()

	te.login(t, "bob@uni.edu", "D1")
	login := te.login(t, "alice@uni.edu", "D1")

	pair, err := te.Refresh(ctx, login.RefreshToken, "D1", SessionMeta{})
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if pair.RefreshToken == login.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}

	if _, err := te.Refresh(ctx, login.RefreshToken, "D1", SessionMeta{}); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected ErrTokenReuseDetected on replay, got %v", err)
	}
	left, err := te.sessions.ListByDevice(ctx, "D1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("expected zero sessions on D1 after reuse, got %d", len(left))
	}
	if _, err := te.Refresh(ctx, pair.RefreshToken, "D1", SessionMeta{}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected the rotated token to be dead too, got %v", err)
	}
	if te.metrics.Value(MetricRefreshReuseDetected) != 1 || te.metrics.Value(MetricSessionsWiped) != 2 {
		t.Fatalf("unexpected reuse metrics: reuse=%d wiped=%d",
			te.metrics.Value(MetricRefreshReuseDetected), te.metrics.Value(MetricSessionsWiped))
	}
}

func TestRefreshErrors(t *testing.T) {
	te := loginTestEngine(t)
	ctx := context.Background()
	login := te.login(t, "alice@uni.edu", "D1")

	cases := []struct {
		name   string
		token  string
		device string
		want   error
	}{
		{"empty token", "", "D1", ErrInvalidToken},
		{"garbage", "abc.def.ghi", "D1", ErrInvalidToken},
		{"access token", login.AccessToken, "D1", ErrInvalidToken},
		{"other device", login.RefreshToken, "D2", ErrSessionNotFound},
		{"no device", login.RefreshToken, "", ErrDeviceIDRequired},
	}
	for _, tc := range cases {
		if _, err := te.Refresh(ctx, tc.token, tc.device, SessionMeta{}); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestConcurrentRefreshHasSingleWinnerAndNoWipe(t *testing.T) {
	te := loginTestEngine(t)
	ctx := context.Background()
	login := te.login(t, "alice@uni.edu", "D1")

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		losers  int
		reuse   int
		unknown []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := te.Refresh(ctx, login.RefreshToken, "D1", SessionMeta{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrRefreshConflict), errors.Is(err, ErrSessionNotFound):
				losers++
			case errors.Is(err, ErrTokenReuseDetected):
				reuse++
			default:
				unknown = append(unknown, err)
			}
		}()
	}
	wg.Wait()

	if len(unknown) > 0 {
		t.Fatalf("unexpected errors: %v", unknown)
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d (conflicts=%d reuse=%d)", wins, losers, reuse)
	}
	// Late callers that read the rotated digest see a replay and wipe the device, after
	// which remaining callers find no session. Callers that only lost the
	// compare-and-swap must not wipe anything.
	if reuse == 0 {
		if _, err := te.sessions.Get(ctx, "D1", "A1"); err != nil {
			t.Fatalf("expected session to survive pure conflicts: %v", err)
		}
	}
}

func TestSwitchAccountEndToEnd(t *testing.T) {
	te := loginTestEngine(t)
	ctx := context.Background()

	alice := te.login(t, "alice@uni.edu", "D1")
	if _, err := te.SwitchAccount(ctx, &alice.Identity, "U2", "D1", SessionMeta{}); !errors.Is(err, ErrTargetNotLoggedInOnDevice) {
		t.Fatalf("expected ErrTargetNotLoggedInOnDevice, got %v", err)
	}

	bob := te.login(t, "bob@uni.edu", "D1")
	res, err := te.SwitchAccount(ctx, &bob.Identity, "U1", "D1", SessionMeta{IPAddress: "10.9.9.9"})
	if err != nil {
		t.Fatalf("switch to U1: %v", err)
	}
	if res.Identity.UserID != "U1" || res.Identity.AccountID != "A1" {
		t.Fatalf("expected U1/A1 tokens, got %+v", res.Identity)
	}
	if len(res.OtherAccounts) != 1 || res.OtherAccounts[0].UserID != "U2" {
		t.Fatalf("expected U2 as other account, got %+v", res.OtherAccounts)
	}

	id, err := te.Authenticate(ctx, res.AccessToken)
	if err != nil || id.UserID != "U1" {
		t.Fatalf("authenticate switched token = %+v, %v", id, err)
	}
	if _, err := te.Refresh(ctx, res.RefreshToken, "D1", SessionMeta{}); err != nil {
		t.Fatalf("refresh after switch: %v", err)
	}
}

func TestSwitchAccountRequiresCallerSessionOnDevice(t *testing.T) {
	te := loginTestEngine(t)
	ctx := context.Background()

	victim := te.login(t, "alice@uni.edu", "D1")
	outsider := te.login(t, "bob@uni.edu", "D2")

	cases := map[string]*Identity{
		"nil caller":        nil,
		"no account":        {UserID: "U2"},
		"session elsewhere": &outsider.Identity,
	}
	for name, caller := range cases {
		if _, err := te.SwitchAccount(ctx, caller, "U1", "D1", SessionMeta{}); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
	if err := te.RequireDeviceSession(ctx, &victim.Identity, "D1"); err != nil {
		t.Fatalf("owner rejected on own device: %v", err)
	}
	if got := te.MetricsSnapshot().Counters[MetricSwitchFailure]; got != uint64(len(cases)) {
		t.Fatalf("switch failures = %d, want %d", got, len(cases))
	}

	// The victim's session was never rotated, so its refresh token still works.
	if _, err := te.Refresh(ctx, victim.RefreshToken, "D1", SessionMeta{}); err != nil {
		t.Fatalf("victim refresh after rejected switches: %v", err)
	}
}

func TestRestoreReturnsFullPayload(t *testing.T) {
	te := loginTestEngine(t)
	ctx := context.Background()

	te.login(t, "bob@uni.edu", "D1")
	login := te.login(t, "alice@uni.edu", "D1")

	res, err := te.Restore(ctx, login.RefreshToken, "D1", SessionMeta{})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if res.Identity.UserID != "U1" || len(res.OtherAccounts) != 1 {
		t.Fatalf("unexpected restore payload %+v", res)
	}
}

func TestLogoutToleratesGarbageAndDeletesOneSession(t *testing.T) {
	te := loginTestEngine(t)
	ctx := context.Background()

	alice := te.login(t, "alice@uni.edu", "D1")
	te.login(t, "bob@uni.edu", "D1")

	if err := te.Logout(ctx, "not-a-token", "D1"); err != nil {
		t.Fatalf("garbage logout: %v", err)
	}
	if err := te.Logout(ctx, alice.RefreshToken, "D1"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	accounts, err := te.DeviceAccounts(ctx, "D1")
	if err != nil {
		t.Fatalf("device accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Identity.UserID != "U2" {
		t.Fatalf("expected only U2 left, got %+v", accounts)
	}
	if err := te.Logout(ctx, alice.RefreshToken, "D1"); err != nil {
		t.Fatalf("second logout: %v", err)
	}
}

func TestLogoutAllAndDeviceLookup(t *testing.T) {
	te := loginTestEngine(t)
	ctx := context.Background()

	te.login(t, "alice@uni.edu", "D1")
	te.login(t, "alice@uni.edu", "D2")
	te.login(t, "bob@uni.edu", "D1")

	acc, err := te.FindAccountByDevice(ctx, "D1", "U2")
	if err != nil || acc.Identity.AccountID != "A2" {
		t.Fatalf("find account = %+v, %v", acc, err)
	}

	n, err := te.LogoutAll(ctx, "A1")
	if err != nil || n != 2 {
		t.Fatalf("logout all = %d, %v", n, err)
	}
	if _, err := te.FindAccountByDevice(ctx, "D2", "U1"); !errors.Is(err, ErrTargetNotLoggedInOnDevice) {
		t.Fatalf("expected U1 gone from D2, got %v", err)
	}
}

func TestRegisterLogsIn(t *testing.T) {
	te := loginTestEngine(t)
	ctx := context.Background()

	res, err := te.Register(ctx, RegisterRequest{Identifier: "carol@uni.edu", Password: "a-long-password", Name: "Carol", DeviceID: "D3"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.Identity.Name != "Carol" || res.Identity.AccountID == "" {
		t.Fatalf("unexpected identity %+v", res.Identity)
	}
	if _, err := te.Register(ctx, RegisterRequest{Identifier: "carol@uni.edu", Password: "a-long-password", DeviceID: "D3"}); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if _, err := te.Register(ctx, RegisterRequest{Identifier: "dave@uni.edu", Password: "short", DeviceID: "D3"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for short password, got %v", err)
	}

	login, err := te.Login(ctx, LoginRequest{Identifier: "carol@uni.edu", Password: "a-long-password", DeviceID: "D4"})
	if err != nil || login.Identity.Name != "Carol" {
		t.Fatalf("login after register = %+v, %v", login, err)
	}
}

func TestLoginVerifiedSkipsPassword(t *testing.T) {
	te := loginTestEngine(t)
	te.users.addAccount("G1", "U7", "", "", "", false)

	res, err := te.LoginVerified(context.Background(), "G1", "D1", SessionMeta{})
	if err != nil {
		t.Fatalf("login verified: %v", err)
	}
	if res.Identity.UserID != "U7" {
		t.Fatalf("unexpected identity %+v", res.Identity)
	}
}

func TestLoginThrottleLocksIdentifier(t *testing.T) {
	cfg := testConfig()
	cfg.LoginThrottle.Threshold = 3
	te := newTestEngine(t, cfg)
	te.users.addAccount("A1", "U1", "alice@uni.edu", te.hash(t, testPassword), "", false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = te.Login(ctx, LoginRequest{Identifier: "alice@uni.edu", Password: "wrong-password", DeviceID: "D1"})
	}
	if _, err := te.Login(ctx, LoginRequest{Identifier: "alice@uni.edu", Password: testPassword, DeviceID: "D1"}); !errors.Is(err, ErrLoginLocked) {
		t.Fatalf("expected ErrLoginLocked, got %v", err)
	}
}
