package guard

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tossmail/tossmail/config"
)

// CaptchaAfterFailed is the failure count at which a gate starts requiring
// human verification on login submissions.
const CaptchaAfterFailed = 2

// PasswordHeader is the transport-level shared-secret header accepted by the
// site gate, mainly for API clients that cannot carry a session.
const PasswordHeader = "Pwd"

const adminPanelPath = "/api/admin"

// Guard enforces the IP allowlist and both password gates.
type Guard struct {
	cfg     *config.Config
	captcha Captcha
}

// New creates a Guard. captcha may be nil, in which case escalation is
// disabled and the challenge-endpoint exemption never triggers.
func New(cfg *config.Config, captcha Captcha) *Guard {
	return &Guard{cfg: cfg, captcha: captcha}
}

// Enforce runs the full check order for one request: IP allowlist first
// (unconditionally, before any session logic), then the captcha-endpoint
// exemption, then the site-wide gate, then the admin gate.
func (g *Guard) Enforce(r *http.Request, sess Session) Outcome {
	if ranges := g.cfg.Web.AllowedIPRanges(); len(ranges) > 0 {
		ip := ClientIP(r)
		if !IPAllowed(ip, ranges) {
			return reject(http.StatusForbidden,
				fmt.Sprintf("Your IP (%s) is not allowed to access this site.", ip))
		}
	}

	// The challenge widget must be reachable to even attempt a login.
	if g.captcha != nil && g.captcha.IsChallengeEndpoint(r) {
		return allow()
	}

	if out := g.enforceSiteGate(r, sess); !out.Allow {
		return out
	}

	return g.enforceAdminGate(r, sess)
}

func (g *Guard) enforceSiteGate(r *http.Request, sess Session) Outcome {
	password := g.cfg.Web.Password
	if password == "" {
		return allow()
	}

	ensureCSRFToken(sess, authCSRFKey)
	captchaRequired := g.captchaRequired(sess, authFailedKey)

	// Transport-level shared secret, no CSRF or captcha involved.
	if header := r.Header.Get(PasswordHeader); header != "" && constantTimeEqual(password, header) {
		sess.Set(sessionAuthenticatedKey, "1")
		resetFailedAttempts(sess, authFailedKey)
		return allow()
	}

	if sess.Get(sessionAuthenticatedKey) == "1" {
		return allow()
	}

	// Same-site form submission: CSRF, then captcha if escalated, then the
	// password itself.
	if r.Method == http.MethodPost && postedPassword(r) != "" {
		if !validateCSRFToken(sess, authCSRFKey, r.PostFormValue("csrf_token")) {
			rotateCSRFToken(sess, authCSRFKey)
			return prompt(LoginPrompt{
				Gate:           GateSite,
				Error:          "Invalid or expired form token. Please try again.",
				RequireCaptcha: captchaRequired,
				CSRFToken:      sess.Get(authCSRFKey),
			})
		}

		if captchaRequired && !g.captchaValidate(r) {
			return prompt(LoginPrompt{
				Gate:           GateSite,
				Error:          "Captcha validation failed",
				RequireCaptcha: true,
				CSRFToken:      sess.Get(authCSRFKey),
			})
		}

		if constantTimeEqual(password, postedPassword(r)) {
			sess.Set(sessionAuthenticatedKey, "1")
			resetFailedAttempts(sess, authFailedKey)
			rotateCSRFToken(sess, authCSRFKey)
			return allow()
		}

		incrementFailedAttempts(sess, authFailedKey)
		return prompt(LoginPrompt{
			Gate:           GateSite,
			Error:          "Wrong password",
			RequireCaptcha: g.captchaRequired(sess, authFailedKey),
			CSRFToken:      sess.Get(authCSRFKey),
		})
	}

	// Legacy query-parameter password: accepted without CSRF or captcha,
	// but a wrong value still counts as a failure. Kept for compatibility
	// with existing API consumers; the asymmetry is intentional.
	if legacy, present := legacyPassword(r); present {
		if constantTimeEqual(password, legacy) {
			sess.Set(sessionAuthenticatedKey, "1")
			resetFailedAttempts(sess, authFailedKey)
			return allow()
		}
		incrementFailedAttempts(sess, authFailedKey)
		return prompt(LoginPrompt{
			Gate:           GateSite,
			Error:          "Wrong password",
			RequireCaptcha: g.captchaRequired(sess, authFailedKey),
			CSRFToken:      sess.Get(authCSRFKey),
		})
	}

	return prompt(LoginPrompt{
		Gate:           GateSite,
		RequireCaptcha: captchaRequired,
		CSRFToken:      sess.Get(authCSRFKey),
	})
}

func (g *Guard) enforceAdminGate(r *http.Request, sess Session) Outcome {
	if !g.cfg.General.AdminEnabled || g.cfg.Web.AdminPassword == "" {
		return allow()
	}
	if normalizePath(r.URL.Path) != adminPanelPath {
		return allow()
	}
	if sess.Get(sessionAdminKey) == "1" {
		return allow()
	}

	password := g.cfg.Web.AdminPassword
	ensureCSRFToken(sess, adminCSRFKey)
	captchaRequired := g.captchaRequired(sess, adminFailedKey)

	if r.Method == http.MethodPost && postedPassword(r) != "" {
		if !validateCSRFToken(sess, adminCSRFKey, r.PostFormValue("csrf_token")) {
			rotateCSRFToken(sess, adminCSRFKey)
			return prompt(LoginPrompt{
				Gate:           GateAdmin,
				Error:          "Invalid or expired form token. Please try again.",
				RequireCaptcha: captchaRequired,
				CSRFToken:      sess.Get(adminCSRFKey),
			})
		}

		if captchaRequired && !g.captchaValidate(r) {
			return prompt(LoginPrompt{
				Gate:           GateAdmin,
				Error:          "Captcha validation failed",
				RequireCaptcha: true,
				CSRFToken:      sess.Get(adminCSRFKey),
			})
		}

		if constantTimeEqual(password, postedPassword(r)) {
			sess.Set(sessionAdminKey, "1")
			resetFailedAttempts(sess, adminFailedKey)
			rotateCSRFToken(sess, adminCSRFKey)
			return allow()
		}

		incrementFailedAttempts(sess, adminFailedKey)
		return prompt(LoginPrompt{
			Gate:           GateAdmin,
			Error:          "Wrong password",
			RequireCaptcha: g.captchaRequired(sess, adminFailedKey),
			CSRFToken:      sess.Get(adminCSRFKey),
		})
	}

	return prompt(LoginPrompt{
		Gate:           GateAdmin,
		RequireCaptcha: captchaRequired,
		CSRFToken:      sess.Get(adminCSRFKey),
	})
}

// IsAuthenticated reports whether the session passed the site-wide gate.
func (g *Guard) IsAuthenticated(sess Session) bool {
	return sess.Get(sessionAuthenticatedKey) == "1"
}

// IsAdmin reports whether the session passed the admin gate.
func (g *Guard) IsAdmin(sess Session) bool {
	return sess.Get(sessionAdminKey) == "1"
}

// Logout resets both gates to unauthenticated by destroying the session.
func (g *Guard) Logout(sess Session) {
	sess.Destroy()
}

func (g *Guard) captchaRequired(sess Session, failedKey string) bool {
	if g.captcha == nil {
		return false
	}
	return failedAttempts(sess, failedKey) >= CaptchaAfterFailed
}

func (g *Guard) captchaValidate(r *http.Request) bool {
	if g.captcha == nil {
		return false
	}
	return g.captcha.Validate(r)
}

// Helpers

func normalizePath(path string) string {
	path = strings.TrimRight(path, "/")
	if path == "" {
		return "/"
	}
	return path
}

func postedPassword(r *http.Request) string {
	return r.PostFormValue("password")
}

// legacyPassword returns the password passed via the query string, if any.
func legacyPassword(r *http.Request) (string, bool) {
	values := r.URL.Query()
	if _, ok := values["password"]; !ok {
		return "", false
	}
	return values.Get("password"), true
}

func constantTimeEqual(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

func newCSRFToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(buf)
}

func ensureCSRFToken(sess Session, key string) {
	if sess.Get(key) == "" {
		sess.Set(key, newCSRFToken())
	}
}

func rotateCSRFToken(sess Session, key string) {
	sess.Set(key, newCSRFToken())
}

func validateCSRFToken(sess Session, key, posted string) bool {
	current := sess.Get(key)
	return current != "" && posted != "" && constantTimeEqual(current, posted)
}

func failedAttempts(sess Session, key string) int {
	n, err := strconv.Atoi(sess.Get(key))
	if err != nil {
		return 0
	}
	return n
}

func incrementFailedAttempts(sess Session, key string) {
	sess.Set(key, strconv.Itoa(failedAttempts(sess, key)+1))
}

func resetFailedAttempts(sess Session, key string) {
	sess.Set(key, "")
}
