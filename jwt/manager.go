package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// SigningMethod selects the JWS algorithm used for both token kinds.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	// ErrWrongTokenType is returned when a refresh token is presented where an access
	// token is expected, or the reverse.
	ErrWrongTokenType = errors.New("wrong token type")
	// ErrMissingSubject is returned when a token carries no subject.
	ErrMissingSubject = errors.New("token subject missing")
)

// Config controls token lifetimes, keys and validation strictness.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Manager issues and verifies access and refresh JWTs. Keys are resolved once by
// [NewManager]; the Manager holds no mutable state and is safe for concurrent use.
type Manager struct {
	config Config
	keys   keyring
	now    func() time.Time
}

// keyring holds decoded key material for one signing method.
type keyring struct {
	method jwt.SigningMethod
	sign   any
	// verify is used when byKid is empty.
	verify any
	byKid  map[string]any
}

// AccessClaims is the bearer payload. Subject is the user id.
type AccessClaims struct {
	AccountID     string `json:"aid"`
	SchoolID      string `json:"sid,omitempty"`
	SchoolAbbr    string `json:"sab,omitempty"`
	SchoolLimited bool   `json:"slt,omitempty"`
	Name          string `json:"name,omitempty"`
	Provider      string `json:"prv,omitempty"`
	JoinedAt      int64  `json:"jat,omitempty"`
	Type          string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims carries only a random identifier and the account id as subject.
type RefreshClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a [Manager].
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0:
		return nil, errors.New("invalid TTL configuration")
	case cfg.RefreshTTL <= cfg.AccessTTL:
		return nil, errors.New("refresh TTL must exceed access TTL")
	case cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute:
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	keys, err := loadKeys(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.KeyID != "" && len(keys.byKid) > 0 {
		if _, ok := keys.byKid[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}
	return &Manager{config: cfg, keys: keys, now: time.Now}, nil
}

func loadKeys(cfg Config) (keyring, error) {
	var k keyring
	// decodeVerify turns one configured verification key into its runtime form.
	var decodeVerify func([]byte) (any, error)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return k, errors.New("hs256 requires a secret of at least 32 bytes")
		}
		k.method = jwt.SigningMethodHS256
		k.sign, k.verify = cfg.PrivateKey, cfg.PrivateKey
		decodeVerify = func(b []byte) (any, error) { return b, nil }
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return k, errors.New("ed25519 requires private key")
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return k, errors.New("ed25519 requires public key or verify key set")
		}
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return k, err
		}
		k.method = jwt.SigningMethodEdDSA
		k.sign, k.verify = priv, priv.Public()
		if len(cfg.PublicKey) > 0 {
			if k.verify, err = parseEdPublicKey(cfg.PublicKey); err != nil {
				return k, err
			}
		}
		decodeVerify = func(b []byte) (any, error) { return parseEdPublicKey(b) }
	default:
		return k, errors.New("unsupported signing method")
	}

	if len(cfg.VerifyKeys) > 0 {
		k.byKid = make(map[string]any, len(cfg.VerifyKeys))
	}
	for kid, raw := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return k, errors.New("verify key map contains empty kid")
		}
		key, err := decodeVerify(raw)
		if err != nil {
			return k, fmt.Errorf("invalid verify key for kid %q: %w", kid, err)
		}
		k.byKid[kid] = key
	}
	return k, nil
}

// AccessTTL returns the configured access token lifetime.
func (j *Manager) AccessTTL() time.Duration { return j.config.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (j *Manager) RefreshTTL() time.Duration { return j.config.RefreshTTL }

// Algorithm returns the JWS alg header value in use.
func (j *Manager) Algorithm() string { return j.keys.method.Alg() }

// IssueAccess signs claims as an access token. Registered time claims, issuer,
// audience and type are filled in by the manager; Subject must be set.
func (j *Manager) IssueAccess(claims AccessClaims) (string, error) {
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	now := j.now()
	claims.Type = typeAccess
	claims.RegisteredClaims = j.registered(claims.Subject, "", now, j.config.AccessTTL)
	return j.sign(claims)
}

// IssueRefresh signs a refresh token for subject with a fresh ULID jti. The parsed
// claims are returned so callers can read the expiry without re-parsing.
func (j *Manager) IssueRefresh(subject string) (string, *RefreshClaims, error) {
	if subject == "" {
		return "", nil, ErrMissingSubject
	}
	now := j.now()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", nil, err
	}
	claims := &RefreshClaims{
		Type:             typeRefresh,
		RegisteredClaims: j.registered(subject, id.String(), now, j.config.RefreshTTL),
	}
	token, err := j.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// ParseAccess verifies signature, time claims, issuer, audience and type of an
// access token.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := j.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Type != typeAccess {
		return nil, ErrWrongTokenType
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token the same way [Manager.ParseAccess] does.
func (j *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := j.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Type != typeRefresh {
		return nil, ErrWrongTokenType
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

func (j *Manager) registered(subject, id string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        id,
		Issuer:    j.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if j.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{j.config.Audience}
	}
	return rc
}

func (j *Manager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(j.keys.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	return token.SignedString(j.keys.sign)
}

type timedClaims interface {
	jwt.Claims
	GetIssuedAt() (*jwt.NumericDate, error)
}

var (
	errUnknownKid = errors.New("unknown kid")
	errFutureIAT  = errors.New("token iat too far in the future")
)

// keyFor picks the verification key named by the token header.
func (j *Manager) keyFor(t *jwt.Token) (any, error) {
	if t.Method.Alg() != j.keys.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)
	if j.keys.byKid != nil {
		key, ok := j.keys.byKid[kid]
		if !ok {
			return nil, errUnknownKid
		}
		return key, nil
	}
	if j.config.KeyID != "" && kid != j.config.KeyID {
		return nil, errUnknownKid
	}
	return j.keys.verify, nil
}

func (j *Manager) parse(tokenStr string, claims timedClaims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.keys.method.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
		jwt.WithLeeway(j.config.Leeway),
	}
	if j.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(j.config.Audience))
	}

	token, err := jwt.NewParser(opts...).ParseWithClaims(tokenStr, claims, j.keyFor)
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenInvalidClaims
	}

	iat, err := claims.GetIssuedAt()
	switch {
	case err != nil:
		return err
	case iat == nil:
		return jwt.ErrTokenRequiredClaimMissing
	case iat.Time.After(j.now().Add(j.config.MaxFutureIAT)):
		return errFutureIAT
	}
	return nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
