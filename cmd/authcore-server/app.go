package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/halinh/authcore"
	"github.com/halinh/authcore/accountstore"
	promexport "github.com/halinh/authcore/metrics/export/prometheus"
	"github.com/halinh/authcore/middleware"
	"github.com/halinh/authcore/password"
	"github.com/rs/zerolog"
)

const (
	refreshTokenCookie  = "refreshToken"
	defaultPhonePattern = `^(\+84|0)[3-9]\d{8}$`
)

type accountStore interface {
	authcore.AccountRepository
	FindByEmail(ctx context.Context, email string) (*authcore.Account, error)
	FindByPhone(ctx context.Context, phone string) (*authcore.Account, error)
	Create(ctx context.Context, account *authcore.Account) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

type app struct {
	engine        *authcore.Engine
	accounts      accountStore
	hasher        password.Hasher
	logger        zerolog.Logger
	secureCookies bool
	phone         *regexp.Regexp
	// dummyHash is verified against when no account matches so unknown
	// identifiers cost the same bcrypt work as known ones.
	dummyHash string
}

func newApp(engine *authcore.Engine, accounts accountStore, hasher password.Hasher, logger zerolog.Logger) *app {
	pattern := engine.Config().Claims.PhonePattern
	if pattern == "" {
		pattern = defaultPhonePattern
	}
	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		logger.Warn().Err(err).Msg("dummy_hash_failed")
	}
	return &app{
		engine:        engine,
		accounts:      accounts,
		hasher:        hasher,
		logger:        logger,
		secureCookies: envOrDefault("APP_ENV", "development") == "production",
		phone:         regexp.MustCompile(pattern),
		dummyHash:     dummy,
	}
}

func (a *app) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(recoverMiddleware(a.logger))
	r.Use(a.requestLogging)

	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promexport.Handler(a.engine)).Methods(http.MethodGet)

	auth := r.PathPrefix("/api/v1/auth").Subrouter()
	auth.Handle("/register", a.limited(authcore.PolicyRegister, a.handleRegister, middleware.ByClientIP, middleware.ByCredential)).Methods(http.MethodPost)
	auth.Handle("/login", a.limited(authcore.PolicyLogin, a.handleLogin, middleware.ByClientIP, middleware.ByCredential)).Methods(http.MethodPost)
	auth.Handle("/refresh", a.limited(authcore.PolicyRefresh, a.handleRefresh, middleware.ByClientIP)).Methods(http.MethodPost)
	auth.HandleFunc("/logout", a.handleLogout).Methods(http.MethodPost)

	guarded := auth.NewRoute().Subrouter()
	guarded.Use(middleware.Guard(a.engine))
	guarded.HandleFunc("/logout-all", a.handleLogoutAll).Methods(http.MethodPost)
	guarded.HandleFunc("/sessions", a.handleListSessions).Methods(http.MethodGet)
	guarded.HandleFunc("/sessions/{version}", a.handleRevokeSession).Methods(http.MethodDelete)
	guarded.HandleFunc("/profile", a.handleProfile).Methods(http.MethodGet)
	guarded.Handle("/change-password", a.limited(authcore.PolicyChangePassword, a.handleChangePassword, middleware.ByAccount)).Methods(http.MethodPut)

	return r
}

// limited counts each request against policy once per key, the first key
// outermost. Any exhausted key denies the request.
func (a *app) limited(policy string, h http.HandlerFunc, keys ...middleware.KeyFunc) http.Handler {
	var next http.Handler = h
	for i := len(keys) - 1; i >= 0; i-- {
		next = middleware.RateLimit(a.engine, policy, keys[i])(next)
	}
	return next
}

func (a *app) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		a.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.statusCode).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Str("ip", middleware.ClientIP(r)).
			Msg("http_request")
	})
}

func (a *app) repairLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.engine.RepairSessions(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("session_repair_failed")
			}
		}
	}
}

type credentialsRequest struct {
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Locale     string `json:"locale"`
	Timezone   string `json:"timezone"`
	RememberMe bool   `json:"rememberMe"`
}

type tokenResponse struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type accountResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Locale   string `json:"locale"`
	Timezone string `json:"timezone"`
}

type sessionResponse struct {
	Version    string    `json:"version"`
	UserAgent  string    `json:"userAgent,omitempty"`
	IP         string    `json:"ip,omitempty"`
	Location   string    `json:"location,omitempty"`
	RememberMe bool      `json:"rememberMe"`
	Current    bool      `json:"current"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	d, err := a.engine.Ping(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "redis_latency_ms": d.Milliseconds()})
}

func (a *app) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeMessage(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	phone := strings.TrimSpace(req.Phone)
	if phone != "" && !a.phone.MatchString(phone) {
		writeMessage(w, http.StatusBadRequest, "invalid phone number")
		return
	}

	hash, err := a.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		middleware.WriteError(w, err)
		return
	}

	account := &authcore.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Phone:        phone,
		PasswordHash: hash,
		Active:       true,
		Locale:       req.Locale,
		Timezone:     req.Timezone,
	}
	if err := a.accounts.Create(r.Context(), account); err != nil {
		if errors.Is(err, accountstore.ErrDuplicate) {
			writeMessage(w, http.StatusConflict, "account already exists")
			return
		}
		a.logger.Error().Err(err).Msg("create_account_failed")
		middleware.WriteError(w, err)
		return
	}

	a.signIn(w, r, account, req.RememberMe, http.StatusCreated)
}

func (a *app) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Email)
	}
	if identifier == "" {
		identifier = strings.TrimSpace(req.Phone)
	}
	if identifier == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "identifier and password are required")
		return
	}

	ctx := middleware.WithRequestMetadata(r)
	var (
		account *authcore.Account
		err     error
	)
	switch {
	case strings.Contains(identifier, "@"):
		account, err = a.accounts.FindByEmail(ctx, identifier)
	case a.phone.MatchString(identifier):
		account, err = a.accounts.FindByPhone(ctx, identifier)
	default:
		writeMessage(w, http.StatusBadRequest, "identifier must be an email or phone number")
		return
	}
	if err != nil {
		if errors.Is(err, authcore.ErrAccountNotFound) {
			_, _ = a.hasher.Verify(req.Password, a.dummyHash)
			middleware.WriteError(w, authcore.ErrUnauthenticated)
			return
		}
		middleware.WriteError(w, &authcore.AuthError{Reason: authcore.ReasonStoreUnavailable, Err: err})
		return
	}

	if a.engine.IsLocked(account) {
		middleware.WriteError(w, &authcore.AuthError{
			Reason:     authcore.ReasonAccountLocked,
			RetryAfter: time.Until(account.LockUntil),
		})
		return
	}

	ok, err := a.hasher.Verify(req.Password, account.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrTooLong) {
		a.logger.Error().Err(err).Str("user_id", account.ID).Msg("verify_password_failed")
	}
	if !ok {
		status, err := a.engine.RecordFailedLogin(ctx, account)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if status.Locked {
			middleware.WriteError(w, &authcore.AuthError{Reason: authcore.ReasonAccountLocked, RetryAfter: status.RetryAfter})
			return
		}
		middleware.WriteError(w, authcore.ErrUnauthenticated)
		return
	}

	if err := a.engine.RecordSuccessfulLogin(ctx, account); err != nil {
		middleware.WriteError(w, err)
		return
	}
	a.signIn(w, r, account, req.RememberMe, http.StatusOK)
}

func (a *app) signIn(w http.ResponseWriter, r *http.Request, account *authcore.Account, rememberMe bool, status int) {
	ctx := middleware.WithRequestMetadata(r)
	pair, err := a.engine.IssueTokens(ctx, account, authcore.DeviceInfo{
		UserAgent:  r.UserAgent(),
		IP:         middleware.ClientIP(r),
		Location:   r.Header.Get("X-Client-Location"),
		RememberMe: rememberMe,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	a.setCookie(w, middleware.AccessTokenCookie, pair.AccessToken, pair.AccessExpiresAt, "/")
	a.setCookie(w, refreshTokenCookie, pair.RefreshToken, pair.RefreshExpiresAt, "/api/v1/auth")
	writeJSON(w, status, map[string]any{
		"account": toAccountResponse(account),
		"tokens": tokenResponse{
			AccessToken:      pair.AccessToken,
			RefreshToken:     pair.RefreshToken,
			AccessExpiresAt:  pair.AccessExpiresAt,
			RefreshExpiresAt: pair.RefreshExpiresAt,
		},
	})
}

func (a *app) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := refreshTokenFrom(r)
	grant, err := a.engine.RefreshAccessToken(middleware.WithRequestMetadata(r), token)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	a.setCookie(w, middleware.AccessTokenCookie, grant.AccessToken, grant.ExpiresAt, "/")
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":     grant.AccessToken,
		"accessExpiresAt": grant.ExpiresAt,
	})
}

func (a *app) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Logout(middleware.WithRequestMetadata(r), refreshTokenFrom(r)); err != nil {
		middleware.WriteError(w, err)
		return
	}
	a.clearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	if err := a.engine.RevokeSession(r.Context(), id.Account.ID, ""); err != nil {
		middleware.WriteError(w, err)
		return
	}
	a.clearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleListSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	sessions, err := a.sessionsFor(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *app) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	version := mux.Vars(r)["version"]
	if err := a.engine.RevokeSession(r.Context(), id.Account.ID, version); err != nil {
		if errors.Is(err, authcore.ErrInvalidAccount) {
			writeMessage(w, http.StatusBadRequest, "invalid session version")
			return
		}
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	sessions, err := a.sessionsFor(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	profile := toAccountResponse(id.Account)
	profile.Locale = id.Locale
	profile.Timezone = id.Timezone
	writeJSON(w, http.StatusOK, map[string]any{
		"account":  profile,
		"sessions": sessions,
	})
}

func (a *app) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	id, _ := middleware.IdentityFromContext(r.Context())
	account := id.Account
	ctx := middleware.WithRequestMetadata(r)

	ok, err := a.hasher.Verify(req.CurrentPassword, account.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrTooLong) {
		a.logger.Error().Err(err).Str("user_id", account.ID).Msg("verify_password_failed")
	}
	if !ok {
		status, err := a.engine.RecordFailedLogin(ctx, account)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if status.Locked {
			middleware.WriteError(w, &authcore.AuthError{Reason: authcore.ReasonAccountLocked, RetryAfter: status.RetryAfter})
			return
		}
		writeMessage(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}
	hash, err := a.hasher.Hash(req.NewPassword)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.accounts.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		a.logger.Error().Err(err).Str("user_id", account.ID).Msg("save_password_failed")
		middleware.WriteError(w, &authcore.AuthError{Reason: authcore.ReasonStoreUnavailable, Err: err})
		return
	}
	if err := a.engine.RecordSuccessfulLogin(ctx, account); err != nil {
		middleware.WriteError(w, err)
		return
	}

	if err := a.engine.RevokeSession(r.Context(), account.ID, ""); err != nil {
		middleware.WriteError(w, err)
		return
	}
	a.clearCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed, sign in again on every device"})
}

func (a *app) sessionsFor(ctx context.Context, id *authcore.Identity) ([]sessionResponse, error) {
	summaries, err := a.engine.ListSessions(ctx, id.Account.ID)
	if err != nil {
		return nil, err
	}
	out := make([]sessionResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, sessionResponse{
			Version:    s.Version,
			UserAgent:  s.UserAgent,
			IP:         s.IP,
			Location:   s.Location,
			RememberMe: s.RememberMe,
			Current:    s.Version == id.Version,
			CreatedAt:  s.CreatedAt,
			ExpiresAt:  s.ExpiresAt,
		})
	}
	return out, nil
}

func (a *app) setCookie(w http.ResponseWriter, name, value string, expires time.Time, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *app) clearCookies(w http.ResponseWriter) {
	a.setCookie(w, middleware.AccessTokenCookie, "", time.Unix(0, 0), "/")
	a.setCookie(w, refreshTokenCookie, "", time.Unix(0, 0), "/api/v1/auth")
}

func refreshTokenFrom(r *http.Request) string {
	if r.Body != nil && r.ContentLength != 0 {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err == nil && body.RefreshToken != "" {
			return body.RefreshToken
		}
	}
	if c, err := r.Cookie(refreshTokenCookie); err == nil {
		return c.Value
	}
	return ""
}

func toAccountResponse(a *authcore.Account) accountResponse {
	return accountResponse{
		ID:       a.ID,
		Email:    a.Email,
		Phone:    a.Phone,
		Locale:   a.Locale,
		Timezone: a.Timezone,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
