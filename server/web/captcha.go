package web

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
)

const (
	captchaPath       = "/api/captcha-request"
	captchaSessionKey = "captcha_token"
	captchaFormField  = "captcha_token"
)

// ChallengeCaptcha is a session-bound challenge-response check. The client
// fetches a token from the challenge endpoint and echoes it with the login
// form; a token is valid exactly once. It implements guard.Captcha.
type ChallengeCaptcha struct {
	sessions *SessionStore
}

// NewChallengeCaptcha creates a captcha provider backed by the session store.
func NewChallengeCaptcha(sessions *SessionStore) *ChallengeCaptcha {
	return &ChallengeCaptcha{sessions: sessions}
}

// IsChallengeEndpoint reports whether the request targets the challenge URL.
func (c *ChallengeCaptcha) IsChallengeEndpoint(r *http.Request) bool {
	return strings.TrimRight(r.URL.Path, "/") == captchaPath
}

// Validate consumes the challenge token carried by a login submission.
func (c *ChallengeCaptcha) Validate(r *http.Request) bool {
	sess, ok := c.sessions.Lookup(r)
	if !ok {
		return false
	}
	issued := sess.Get(captchaSessionKey)
	posted := r.PostFormValue(captchaFormField)
	if issued == "" || posted == "" || issued != posted {
		return false
	}
	sess.Set(captchaSessionKey, "")
	return true
}

// HandleChallenge issues a fresh token for the caller's session.
func (c *ChallengeCaptcha) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	sess := c.sessions.Load(w, r)

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		http.Error(w, "challenge generation failed", http.StatusInternalServerError)
		return
	}
	token := hex.EncodeToString(buf)
	sess.Set(captchaSessionKey, token)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(map[string]string{"challenge": token})
}
