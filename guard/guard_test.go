package guard

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tossmail/tossmail/config"
)

// fakeSession is a map-backed Session for tests.
type fakeSession struct {
	values    map[string]string
	destroyed bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{values: make(map[string]string)}
}

func (s *fakeSession) Get(key string) string { return s.values[key] }
func (s *fakeSession) Set(key, value string) { s.values[key] = value }
func (s *fakeSession) Destroy() {
	s.destroyed = true
	s.values = make(map[string]string)
}

// fakeCaptcha validates when the request carries solved=1.
type fakeCaptcha struct{}

func (fakeCaptcha) IsChallengeEndpoint(r *http.Request) bool {
	return r.URL.Path == "/api/captcha-request"
}

func (fakeCaptcha) Validate(r *http.Request) bool {
	return r.PostFormValue("solved") == "1"
}

func testConfig(sitePassword, adminPassword string) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Web.Password = sitePassword
	cfg.Web.AdminPassword = adminPassword
	cfg.General.AdminEnabled = adminPassword != ""
	cfg.General.Admin = "admin@example.com"
	return &cfg
}

func getRequest(path string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.RemoteAddr = "198.51.100.7:4444"
	return r
}

func postForm(path string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.RemoteAddr = "198.51.100.7:4444"
	return r
}

func TestEnforceNoPasswordsAllows(t *testing.T) {
	g := New(testConfig("", ""), nil)
	out := g.Enforce(getRequest("/api/address/user@example.com"), newFakeSession())
	require.True(t, out.Allow)
}

func TestEnforceIPAllowlist(t *testing.T) {
	cfg := testConfig("", "")
	cfg.Web.AllowedIPs = "203.0.113.0/24"
	g := New(cfg, nil)

	out := g.Enforce(getRequest("/"), newFakeSession())
	require.False(t, out.Allow)
	require.Equal(t, http.StatusForbidden, out.Status)
	require.Contains(t, out.Body, "198.51.100.7")

	allowed := getRequest("/")
	allowed.RemoteAddr = "203.0.113.9:1234"
	out = g.Enforce(allowed, newFakeSession())
	require.True(t, out.Allow)
}

func TestIPAllowlistBeatsSession(t *testing.T) {
	cfg := testConfig("secret", "")
	cfg.Web.AllowedIPs = "203.0.113.0/24"
	g := New(cfg, nil)

	// Even a fully authenticated session is rejected by the allowlist.
	sess := newFakeSession()
	sess.Set(sessionAuthenticatedKey, "1")
	out := g.Enforce(getRequest("/"), sess)
	require.False(t, out.Allow)
	require.Equal(t, http.StatusForbidden, out.Status)
}

func TestSiteGatePromptsWithoutCredentials(t *testing.T) {
	g := New(testConfig("secret", ""), nil)
	sess := newFakeSession()

	out := g.Enforce(getRequest("/api/address/user@example.com"), sess)
	require.False(t, out.Allow)
	require.NotNil(t, out.Prompt)
	require.Equal(t, GateSite, out.Prompt.Gate)
	require.Empty(t, out.Prompt.Error)
	require.NotEmpty(t, out.Prompt.CSRFToken)
}

func TestSiteGateHeaderSecret(t *testing.T) {
	g := New(testConfig("secret", ""), nil)
	sess := newFakeSession()

	r := getRequest("/api/address/user@example.com")
	r.Header.Set(PasswordHeader, "secret")
	out := g.Enforce(r, sess)
	require.True(t, out.Allow)

	// The session is now marked; a follow-up without the header passes too.
	out = g.Enforce(getRequest("/api/address/user@example.com"), sess)
	require.True(t, out.Allow)
	require.True(t, g.IsAuthenticated(sess))
}

func TestSiteGateWrongHeaderFallsThrough(t *testing.T) {
	g := New(testConfig("secret", ""), nil)
	sess := newFakeSession()

	r := getRequest("/")
	r.Header.Set(PasswordHeader, "wrong")
	out := g.Enforce(r, sess)
	require.False(t, out.Allow)
	require.NotNil(t, out.Prompt)
}

func TestSiteGateFormLogin(t *testing.T) {
	g := New(testConfig("secret", ""), nil)
	sess := newFakeSession()

	// First contact issues the CSRF token.
	out := g.Enforce(getRequest("/"), sess)
	require.NotNil(t, out.Prompt)
	token := out.Prompt.CSRFToken

	out = g.Enforce(postForm("/", url.Values{
		"password":   {"secret"},
		"csrf_token": {token},
	}), sess)
	require.True(t, out.Allow)
	require.True(t, g.IsAuthenticated(sess))

	// Token rotated after successful login.
	require.NotEqual(t, token, sess.Get(authCSRFKey))
}

func TestSiteGateCSRFMismatchRotates(t *testing.T) {
	g := New(testConfig("secret", ""), nil)
	sess := newFakeSession()

	g.Enforce(getRequest("/"), sess)
	before := sess.Get(authCSRFKey)

	out := g.Enforce(postForm("/", url.Values{
		"password":   {"secret"},
		"csrf_token": {"forged"},
	}), sess)
	require.False(t, out.Allow)
	require.NotNil(t, out.Prompt)
	require.Contains(t, out.Prompt.Error, "form token")

	// The token must change on mismatch so a leaked token goes stale.
	after := sess.Get(authCSRFKey)
	require.NotEqual(t, before, after)
	require.Equal(t, after, out.Prompt.CSRFToken)
	require.False(t, g.IsAuthenticated(sess))
}

func TestSiteGateWrongPasswordCountsFailures(t *testing.T) {
	g := New(testConfig("secret", ""), fakeCaptcha{})
	sess := newFakeSession()

	for i := 0; i < CaptchaAfterFailed; i++ {
		g.Enforce(getRequest("/"), sess)
		token := sess.Get(authCSRFKey)
		out := g.Enforce(postForm("/", url.Values{
			"password":   {"wrong"},
			"csrf_token": {token},
		}), sess)
		require.False(t, out.Allow)
		require.Equal(t, "Wrong password", out.Prompt.Error)
	}

	// Failure threshold reached: captcha now required.
	out := g.Enforce(getRequest("/"), sess)
	require.NotNil(t, out.Prompt)
	require.True(t, out.Prompt.RequireCaptcha)

	// Correct password without solving the captcha is refused.
	token := sess.Get(authCSRFKey)
	out = g.Enforce(postForm("/", url.Values{
		"password":   {"secret"},
		"csrf_token": {token},
	}), sess)
	require.False(t, out.Allow)
	require.Equal(t, "Captcha validation failed", out.Prompt.Error)

	// Solving it lets the login through and resets the counter.
	token = sess.Get(authCSRFKey)
	out = g.Enforce(postForm("/", url.Values{
		"password":   {"secret"},
		"csrf_token": {token},
		"solved":     {"1"},
	}), sess)
	require.True(t, out.Allow)
	require.Equal(t, "", sess.Get(authFailedKey))
}

func TestSiteGateNoCaptchaProviderNeverEscalates(t *testing.T) {
	g := New(testConfig("secret", ""), nil)
	sess := newFakeSession()

	for i := 0; i < 5; i++ {
		g.Enforce(getRequest("/"), sess)
		token := sess.Get(authCSRFKey)
		g.Enforce(postForm("/", url.Values{
			"password":   {"wrong"},
			"csrf_token": {token},
		}), sess)
	}

	out := g.Enforce(getRequest("/"), sess)
	require.NotNil(t, out.Prompt)
	require.False(t, out.Prompt.RequireCaptcha)
}

func TestSiteGateLegacyQueryPassword(t *testing.T) {
	g := New(testConfig("secret", ""), nil)

	sess := newFakeSession()
	out := g.Enforce(getRequest("/api/address/user@example.com?password=secret"), sess)
	require.True(t, out.Allow)
	require.True(t, g.IsAuthenticated(sess))

	// Wrong legacy value still counts as a failure.
	sess = newFakeSession()
	out = g.Enforce(getRequest("/?password=nope"), sess)
	require.False(t, out.Allow)
	require.Equal(t, "Wrong password", out.Prompt.Error)
	require.Equal(t, "1", sess.Get(authFailedKey))
}

func TestCaptchaEndpointExemptFromGates(t *testing.T) {
	g := New(testConfig("secret", "adminsecret"), fakeCaptcha{})
	out := g.Enforce(getRequest("/api/captcha-request"), newFakeSession())
	require.True(t, out.Allow)
}

func TestAdminGateOnlyAtAdminPanel(t *testing.T) {
	g := New(testConfig("", "adminsecret"), nil)
	sess := newFakeSession()

	// Everything but the admin panel passes.
	out := g.Enforce(getRequest("/api/address/user@example.com"), sess)
	require.True(t, out.Allow)

	out = g.Enforce(getRequest("/api/admin"), sess)
	require.False(t, out.Allow)
	require.NotNil(t, out.Prompt)
	require.Equal(t, GateAdmin, out.Prompt.Gate)

	// Trailing slash still hits the gate.
	out = g.Enforce(getRequest("/api/admin/"), sess)
	require.False(t, out.Allow)
}

func TestAdminGateLogin(t *testing.T) {
	g := New(testConfig("", "adminsecret"), nil)
	sess := newFakeSession()

	g.Enforce(getRequest("/api/admin"), sess)
	token := sess.Get(adminCSRFKey)

	out := g.Enforce(postForm("/api/admin", url.Values{
		"password":   {"adminsecret"},
		"csrf_token": {token},
	}), sess)
	require.True(t, out.Allow)
	require.True(t, g.IsAdmin(sess))

	// Site and admin flags are independent.
	require.False(t, g.IsAuthenticated(sess))
}

func TestAdminGateDisabledWhenNotEnabled(t *testing.T) {
	cfg := testConfig("", "adminsecret")
	cfg.General.AdminEnabled = false
	g := New(cfg, nil)

	out := g.Enforce(getRequest("/api/admin"), newFakeSession())
	require.True(t, out.Allow)
}

func TestBothGatesInOrder(t *testing.T) {
	g := New(testConfig("sitepw", "adminpw"), nil)
	sess := newFakeSession()

	// Site gate first.
	out := g.Enforce(getRequest("/api/admin"), sess)
	require.Equal(t, GateSite, out.Prompt.Gate)

	r := getRequest("/api/admin")
	r.Header.Set(PasswordHeader, "sitepw")
	out = g.Enforce(r, sess)
	require.False(t, out.Allow)
	require.Equal(t, GateAdmin, out.Prompt.Gate)
}

func TestLogoutDestroysSession(t *testing.T) {
	g := New(testConfig("secret", ""), nil)
	sess := newFakeSession()
	sess.Set(sessionAuthenticatedKey, "1")

	g.Logout(sess)
	require.True(t, sess.destroyed)
	require.False(t, g.IsAuthenticated(sess))
}
