package trustguard

import "github.com/campuskit/trustguard/internal/security"

// SecurityReport summarises the engine's effective security settings.
type SecurityReport = security.Report

// SecurityReport returns the posture of e. It contains no key material.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config
	return security.BuildReport(security.ReportInput{
		SigningAlgorithm:     c.JWT.SigningMethod,
		AccessTTL:            c.JWT.AccessTTL,
		RefreshTTL:           c.JWT.RefreshTTL,
		Password:             passwordReport(c.Password),
		RefreshDigest:        passwordReport(c.RefreshDigest),
		FailOpen:             c.RateLimit.FailOpen,
		EnumerationThreshold: c.Risk.EnumerationThreshold,
		ScoreThreshold:       c.Risk.ScoreThreshold,
		SchoolQuotaEnabled:   c.SchoolQuota.Enabled,
		SchoolQuotaLimit:     c.SchoolQuota.DailyLimit,
		LoginThreshold:       c.LoginThrottle.Threshold,
		LoginWindow:          c.LoginThrottle.Window,
		AuditEnabled:         c.Audit.Enabled,
	})
}

func passwordReport(p PasswordConfig) security.PasswordReport {
	return security.PasswordReport{
		Memory:      p.Memory,
		Time:        p.Time,
		Parallelism: p.Parallelism,
		SaltLength:  p.SaltLength,
		KeyLength:   p.KeyLength,
	}
}
