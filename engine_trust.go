package trustguard

import (
	"context"

	"github.com/campuskit/trustguard/device"
)

// ClassifyTrust resolves the trust tier of a request. It never fails: bad or missing
// evidence lowers the tier.
func (e *Engine) ClassifyTrust(_ context.Context, ev Evidence) TrustResult {
	if e == nil || e.classifier == nil {
		return TrustResult{Tier: TierUntrusted}
	}
	res := e.classifier.Classify(ev)
	out := TrustResult{
		Tier:           res.Tier,
		DeviceID:       res.DeviceID,
		DeviceVerified: res.DeviceVerified,
	}
	if res.Claims != nil {
		id := identityFromClaims(res.Claims)
		out.Identity = &id
	}
	return out
}

// DeviceCookie returns the signed d_id cookie value for deviceID.
func (e *Engine) DeviceCookie(deviceID string) string {
	return e.signer.Sign(deviceID)
}

// VerifyDeviceCookie returns the device id inside a signed cookie value.
func (e *Engine) VerifyDeviceCookie(cookie string) (string, bool) {
	return e.signer.Verify(cookie)
}

// NewDeviceID returns a fresh random device id.
func NewDeviceID() (string, error) {
	return device.NewID()
}
