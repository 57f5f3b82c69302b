package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Report summarises the security posture of a running engine. It never carries keys.
type Report struct {
	SigningAlgorithm      string
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	Argon2                PasswordReport
	RefreshDigest         PasswordReport
	RefreshReuseDetection bool
	RateLimitFailOpen     bool
	EnumerationGuard      bool
	RiskScoring           bool
	SchoolQuotaActive     bool
	LoginThrottleActive   bool
	AuditActive           bool
	Warnings              []string
}

type ReportInput struct {
	SigningAlgorithm     string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	Password             PasswordReport
	RefreshDigest        PasswordReport
	FailOpen             bool
	EnumerationThreshold int64
	ScoreThreshold       int64
	SchoolQuotaEnabled   bool
	SchoolQuotaLimit     int64
	LoginThreshold       int64
	LoginWindow          time.Duration
	AuditEnabled         bool
}

const (
	recommendedArgon2MemoryKB = 64 * 1024
	longAccessTTL             = time.Hour
)

// BuildReport derives a Report from input.
func BuildReport(input ReportInput) Report {
	r := Report{
		SigningAlgorithm:      input.SigningAlgorithm,
		AccessTTL:             input.AccessTTL,
		RefreshTTL:            input.RefreshTTL,
		Argon2:                input.Password,
		RefreshDigest:         input.RefreshDigest,
		RefreshReuseDetection: true,
		RateLimitFailOpen:     input.FailOpen,
		EnumerationGuard:      input.EnumerationThreshold > 0,
		RiskScoring:           input.ScoreThreshold > 0,
		SchoolQuotaActive:     input.SchoolQuotaEnabled && input.SchoolQuotaLimit > 0,
		LoginThrottleActive:   input.LoginThreshold > 0 && input.LoginWindow > 0,
		AuditActive:           input.AuditEnabled,
	}

	if input.Password.Memory < recommendedArgon2MemoryKB {
		r.Warnings = append(r.Warnings, "argon2 password memory below 64 MiB")
	}
	if input.AccessTTL > longAccessTTL {
		r.Warnings = append(r.Warnings, "access tokens live longer than one hour")
	}
	if input.FailOpen {
		r.Warnings = append(r.Warnings, "rate limiting admits requests when the counter store is down")
	}
	if !r.LoginThrottleActive {
		r.Warnings = append(r.Warnings, "login failure throttle disabled")
	}
	if !input.AuditEnabled {
		r.Warnings = append(r.Warnings, "audit events disabled")
	}
	return r
}
