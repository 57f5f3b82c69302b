// Package trust maps the evidence a request carries to an ordered trust tier.
package trust

import (
	"strings"

	"github.com/campuskit/trustguard/device"
	"github.com/campuskit/trustguard/jwt"
)

// Tier is an ordered confidence level in the requester's identity evidence.
type Tier int

const (
	Untrusted Tier = iota
	DeviceHeaderOnly
	DeviceCookieVerified
	Authenticated
)

func (t Tier) String() string {
	switch t {
	case Untrusted:
		return "untrusted"
	case DeviceHeaderOnly:
		return "device_header_only"
	case DeviceCookieVerified:
		return "device_cookie_verified"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Evidence is what a request presents: the raw bearer token, the X-Device-ID header
// and the d_id cookie.
type Evidence struct {
	BearerToken  string
	DeviceHeader string
	DeviceCookie string
}

// Result is the classification of one request.
type Result struct {
	Tier           Tier
	DeviceID       string
	DeviceVerified bool
	Claims         *jwt.AccessClaims
}

// Classifier resolves tiers. It never fails: missing or bad evidence just lowers the
// tier.
type Classifier struct {
	parseAccess func(string) (*jwt.AccessClaims, error)
	signer      *device.Signer
}

// New returns a Classifier. signer may be nil, in which case cookies are ignored.
func New(parseAccess func(string) (*jwt.AccessClaims, error), signer *device.Signer) *Classifier {
	return &Classifier{parseAccess: parseAccess, signer: signer}
}

// Classify applies, in order: valid bearer token, verified device cookie, syntactically
// valid device header, nothing.
func (c *Classifier) Classify(ev Evidence) Result {
	var res Result

	if c.signer != nil && ev.DeviceCookie != "" {
		if id, ok := c.signer.Verify(ev.DeviceCookie); ok {
			res.DeviceID = id
			res.DeviceVerified = true
		}
	}
	header := strings.TrimSpace(ev.DeviceHeader)
	headerOK := device.Valid(header)
	if res.DeviceID == "" && headerOK {
		res.DeviceID = header
	}

	if token := strings.TrimSpace(ev.BearerToken); token != "" && c.parseAccess != nil {
		if claims, err := c.parseAccess(token); err == nil && claims != nil {
			res.Tier = Authenticated
			res.Claims = claims
			return res
		}
	}

	switch {
	case res.DeviceVerified:
		res.Tier = DeviceCookieVerified
	case headerOK:
		res.Tier = DeviceHeaderOnly
	default:
		res.Tier = Untrusted
	}
	return res
}
