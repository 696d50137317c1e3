// Package guard enforces access control in front of every viewer request:
// an optional IP allowlist, a site-wide password gate, and an independent
// admin-panel gate, with CSRF rotation and captcha escalation per gate.
//
// The guard is a pure function of (request, session, config): it never writes
// a response itself. Decisions come back as an Outcome value the HTTP layer
// translates into a response, and all mutable state lives in the injected
// Session.
package guard

// Session is the per-browser key/value state the guard operates on. The
// session identity and persistence mechanism are entirely external.
type Session interface {
	Get(key string) string
	Set(key, value string)
	Destroy()
}

// Session keys. Site-wide and admin gates are symmetric but fully
// independent: each has its own flag, CSRF token, and failure counter.
const (
	sessionAuthenticatedKey = "authenticated"
	sessionAdminKey         = "admin"

	authCSRFKey  = "auth_csrf_token"
	adminCSRFKey = "admin_csrf_token"

	authFailedKey  = "auth_failed_password_attempts"
	adminFailedKey = "admin_failed_password_attempts"
)
