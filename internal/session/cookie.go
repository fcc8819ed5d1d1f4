package session

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"classauth/pkg/requestcontext"
)

// CookieName holds the signed user identifier.
const CookieName = "classauth_session"

// Manager keeps a stable user identifier per browser in a signed cookie.
type Manager struct {
	signer signer
	ttl    time.Duration
	secure bool
	logger *slog.Logger
}

func NewManager(secret string, opts ...Option) *Manager {
	c := newConfig(DefaultSessionTTL, opts)
	return &Manager{
		signer: signer{key: []byte(secret), audience: sessionAudience, now: c.now},
		ttl:    c.ttl,
		secure: c.secure,
		logger: c.logger,
	}
}

// Middleware resolves the user identifier from the cookie, minting a fresh one
// when it is absent, tampered with or expired, and stores it in the request
// context. Cookies past half their lifetime are reissued.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, expiresAt, ok := m.read(r)
		if !ok {
			userID = uuid.NewString()
			m.logger.DebugContext(ctx, "session identifier issued", "user_id", userID)
		}
		if !ok || expiresAt.Sub(m.signer.now()) < m.ttl/2 {
			if err := m.write(w, userID); err != nil {
				m.logger.ErrorContext(ctx, "failed to issue session cookie", "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(requestcontext.WithUserID(ctx, userID)))
	})
}

// Clear expires the session cookie so the next request starts a new session.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Issue returns a cookie value for userID.
func (m *Manager) Issue(userID string) (string, error) {
	return m.signer.sign(m.signer.registered(userID, m.ttl, ""))
}

func (m *Manager) read(r *http.Request) (string, time.Time, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if err := m.signer.parse(cookie.Value, &claims); err != nil {
		m.logger.DebugContext(r.Context(), "session cookie rejected", "error", err)
		return "", time.Time{}, false
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return "", time.Time{}, false
	}
	return claims.Subject, claims.ExpiresAt.Time, true
}

func (m *Manager) write(w http.ResponseWriter, userID string) error {
	value, err := m.Issue(userID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
