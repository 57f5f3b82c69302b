package server

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/campuskit/trustguard"
	"github.com/campuskit/trustguard/middleware"
)

type identityJSON struct {
	UserID        string    `json:"user_id"`
	AccountID     string    `json:"account_id"`
	SchoolID      string    `json:"school_id,omitempty"`
	SchoolAbbr    string    `json:"school_abbr,omitempty"`
	SchoolLimited bool      `json:"school_limited"`
	Name          string    `json:"name,omitempty"`
	Provider      string    `json:"provider,omitempty"`
	JoinedAt      time.Time `json:"joined_at,omitzero"`
}

type loginJSON struct {
	AccessToken      string         `json:"access_token"`
	RefreshExpiresAt time.Time      `json:"refresh_expires_at"`
	User             identityJSON   `json:"user"`
	OtherAccounts    []identityJSON `json:"other_accounts"`
}

type deviceAccountJSON struct {
	User       identityJSON `json:"user"`
	SessionID  string       `json:"session_id"`
	LastUsedAt time.Time    `json:"last_used_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

func toIdentityJSON(id trustguard.Identity) identityJSON {
	return identityJSON(id)
}

func (s *Server) writeLogin(w http.ResponseWriter, res *trustguard.LoginResult) {
	s.setSessionCookies(w, res.TokenPair)
	out := loginJSON{
		AccessToken:      res.AccessToken,
		RefreshExpiresAt: res.RefreshExpiresAt,
		User:             toIdentityJSON(res.Identity),
		OtherAccounts:    make([]identityJSON, 0, len(res.OtherAccounts)),
	}
	for _, other := range res.OtherAccounts {
		out.OtherAccounts = append(out.OtherAccounts, toIdentityJSON(other))
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

type loginBody struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=1024"`
}

type registerBody struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=1024"`
	Name       string `json:"name" validate:"max=128"`
	SchoolID   string `json:"school_id" validate:"omitempty,max=64"`
}

type switchBody struct {
	UserID string `json:"user_id" validate:"required,max=128"`
}

func meta(r *http.Request) trustguard.SessionMeta {
	ua := r.UserAgent()
	if len(ua) > 256 {
		ua = ua[:256]
	}
	return trustguard.SessionMeta{
		IPAddress:  trustguard.ClientIPFromContext(r.Context()),
		Country:    r.Header.Get("X-Client-Country"),
		City:       r.Header.Get("X-Client-City"),
		DeviceType: r.Header.Get("X-Device-Type"),
		Browser:    ua,
	}
}

// deviceFor returns the request's device id, minting one when allowMint is set and the
// request carries none.
func (s *Server) deviceFor(r *http.Request, allowMint bool) (string, error) {
	if res, ok := trustguard.TrustFromContext(r.Context()); ok && res.DeviceID != "" {
		return res.DeviceID, nil
	}
	if !allowMint {
		return "", trustguard.ErrDeviceIDRequired
	}
	return trustguard.NewDeviceID()
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := decodeBody(r, &body); err != nil {
		writeRequestError(w, err)
		return
	}
	deviceID, err := s.deviceFor(r, true)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	res, err := s.engine.Login(r.Context(), trustguard.LoginRequest{
		Identifier: body.Identifier,
		Password:   body.Password,
		DeviceID:   deviceID,
		Meta:       meta(r),
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	s.writeLogin(w, res)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := decodeBody(r, &body); err != nil {
		writeRequestError(w, err)
		return
	}
	deviceID, err := s.deviceFor(r, true)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	res, err := s.engine.Register(r.Context(), trustguard.RegisterRequest{
		Identifier: body.Identifier,
		Password:   body.Password,
		Name:       body.Name,
		SchoolID:   body.SchoolID,
		DeviceID:   deviceID,
		Meta:       meta(r),
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	s.writeLogin(w, res)
}

func refreshToken(r *http.Request) string {
	if c, err := r.Cookie(refreshCookieName); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.deviceFor(r, false)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	pair, err := s.engine.Refresh(r.Context(), refreshToken(r), deviceID, meta(r))
	if err != nil {
		s.clearOnReuse(w, err)
		middleware.WriteError(w, err)
		return
	}
	s.setSessionCookies(w, *pair)
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"access_token":       pair.AccessToken,
		"refresh_expires_at": pair.RefreshExpiresAt,
	})
}

func (s *Server) restore(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.deviceFor(r, false)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	res, err := s.engine.Restore(r.Context(), refreshToken(r), deviceID, meta(r))
	if err != nil {
		s.clearOnReuse(w, err)
		middleware.WriteError(w, err)
		return
	}
	s.writeLogin(w, res)
}

func (s *Server) switchAccount(w http.ResponseWriter, r *http.Request) {
	var body switchBody
	if err := decodeBody(r, &body); err != nil {
		writeRequestError(w, err)
		return
	}
	deviceID, err := s.deviceFor(r, false)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	caller, _ := middleware.IdentityFromContext(r)
	res, err := s.engine.SwitchAccount(r.Context(), caller, body.UserID, deviceID, meta(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	s.writeLogin(w, res)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if deviceID, err := s.deviceFor(r, false); err == nil {
		if err := s.engine.Logout(r.Context(), refreshToken(r), deviceID); err != nil {
			s.logger.Warn("logout store failure; clearing cookie anyway", zap.Error(err))
		}
	}
	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r)
	n, err := s.engine.LogoutAll(r.Context(), id.AccountID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	s.clearRefreshCookie(w)
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) deviceAccounts(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.deviceFor(r, false)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	caller, _ := middleware.IdentityFromContext(r)
	if err := s.engine.RequireDeviceSession(r.Context(), caller, deviceID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	accounts, err := s.engine.DeviceAccounts(r.Context(), deviceID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	out := make([]deviceAccountJSON, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, deviceAccountJSON{
			User:       toIdentityJSON(a.Identity),
			SessionID:  a.SessionID,
			LastUsedAt: a.LastUsedAt,
			ExpiresAt:  a.ExpiresAt,
		})
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r)
	middleware.WriteJSON(w, http.StatusOK, toIdentityJSON(*id))
}

func (s *Server) clearOnReuse(w http.ResponseWriter, err error) {
	if errors.Is(err, trustguard.ErrTokenReuseDetected) || errors.Is(err, trustguard.ErrSessionNotFound) {
		s.clearRefreshCookie(w)
	}
	if errors.Is(err, trustguard.ErrTokenReuseDetected) {
		s.logger.Warn("refresh token replay; device sessions wiped")
	}
}

func (s *Server) setSessionCookies(w http.ResponseWriter, pair trustguard.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     refreshCookiePath,
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	if pair.DeviceCookie != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     s.deviceCookie,
			Value:    pair.DeviceCookie,
			Path:     "/",
			Expires:  time.Now().Add(400 * 24 * time.Hour),
			HttpOnly: true,
			Secure:   s.opts.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
