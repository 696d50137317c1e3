package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"
)

const sessionCookieName = "tossmail_session"

// SessionStore keeps cookie-keyed sessions in memory. Sessions expire after
// the configured idle TTL; a background sweeper reclaims them.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionData
	ttl      time.Duration
	secure   bool
}

type sessionData struct {
	values  map[string]string
	expires time.Time
}

// NewSessionStore creates a store with the given idle TTL. secure marks the
// session cookie as HTTPS-only.
func NewSessionStore(ttl time.Duration, secure bool) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*sessionData),
		ttl:      ttl,
		secure:   secure,
	}
}

// StartSweeper reclaims expired sessions until ctx is cancelled.
func (st *SessionStore) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				st.mu.Lock()
				for id, data := range st.sessions {
					if now.After(data.expires) {
						delete(st.sessions, id)
					}
				}
				st.mu.Unlock()
			}
		}
	}()
}

// Load resolves the session of a request, creating one (and setting the
// cookie) when the request carries no live session.
func (st *SessionStore) Load(w http.ResponseWriter, r *http.Request) *Session {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		st.mu.Lock()
		data, ok := st.sessions[cookie.Value]
		if ok && time.Now().Before(data.expires) {
			data.expires = time.Now().Add(st.ttl)
			st.mu.Unlock()
			return &Session{store: st, id: cookie.Value}
		}
		st.mu.Unlock()
	}

	id := newSessionID()
	st.mu.Lock()
	st.sessions[id] = &sessionData{
		values:  make(map[string]string),
		expires: time.Now().Add(st.ttl),
	}
	st.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   st.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return &Session{store: st, id: id}
}

// Lookup resolves the session of a request without creating one. ok is false
// when the request carries no live session.
func (st *SessionStore) Lookup(r *http.Request) (*Session, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	data, ok := st.sessions[cookie.Value]
	if !ok || time.Now().After(data.expires) {
		return nil, false
	}
	return &Session{store: st, id: cookie.Value}, true
}

// Session is a handle to one stored session. It implements guard.Session.
type Session struct {
	store *SessionStore
	id    string
}

func (s *Session) Get(key string) string {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if data, ok := s.store.sessions[s.id]; ok {
		return data.values[key]
	}
	return ""
}

func (s *Session) Set(key, value string) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if data, ok := s.store.sessions[s.id]; ok {
		data.values[key] = value
	}
}

func (s *Session) Destroy() {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	delete(s.store.sessions, s.id)
}

func newSessionID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
