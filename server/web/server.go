// Package web implements the HTTP viewer: mailbox listings, message and
// attachment retrieval, webhook configuration endpoints and the admin panel,
// all behind the access guard.
package web

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tossmail/tossmail/config"
	"github.com/tossmail/tossmail/guard"
	"github.com/tossmail/tossmail/logger"
	"github.com/tossmail/tossmail/mailbox"
	"github.com/tossmail/tossmail/pkg/metrics"
)

const sessionTTL = 4 * time.Hour

// Server is the HTTP viewer.
type Server struct {
	cfg      *config.Config
	store    *mailbox.Store
	guard    *guard.Guard
	sessions *SessionStore
	captcha  *ChallengeCaptcha
	server   *http.Server
}

// New creates the viewer with its session store, captcha provider and guard.
func New(cfg *config.Config, store *mailbox.Store) *Server {
	sessions := NewSessionStore(sessionTTL, cfg.Web.TLS)
	captcha := NewChallengeCaptcha(sessions)

	return &Server{
		cfg:      cfg,
		store:    store,
		guard:    guard.New(cfg, captcha),
		sessions: sessions,
		captcha:  captcha,
	}
}

// Start runs the listener until ctx is cancelled. Fatal errors are reported
// on errChan.
func (s *Server) Start(ctx context.Context, errChan chan<- error) {
	s.sessions.StartSweeper(ctx)

	s.server = &http.Server{
		Addr:    s.cfg.Web.Addr,
		Handler: s.setupRoutes(),
	}

	go func() {
		<-ctx.Done()
		logger.Info("HTTP: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Debug("HTTP: shutdown error", "error", err)
		}
	}()

	go func() {
		var err error
		if s.cfg.Web.TLS {
			logger.Info("HTTPS: listening", "addr", s.cfg.Web.Addr)
			err = s.server.ListenAndServeTLS(s.cfg.Web.TLSCertFile, s.cfg.Web.TLSKeyFile)
		} else {
			logger.Info("HTTP: listening", "addr", s.cfg.Web.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
			errChan <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	guarded := router.PathPrefix("/").Subrouter()
	guarded.Use(s.guardMiddleware)

	guarded.HandleFunc("/api/captcha-request", s.handleCaptchaRequest).Methods("GET", "POST", "OPTIONS")

	guarded.HandleFunc("/api", s.handleIntro).Methods("GET", "POST")
	guarded.HandleFunc("/api/address", s.handleAddress).Methods("GET", "POST")
	guarded.HandleFunc("/api/address/{email}", s.handleAddress).Methods("GET", "POST")
	guarded.HandleFunc("/api/read/{email}/{id}", s.handleRead).Methods("GET")
	guarded.HandleFunc("/api/raw/{email}/{id}", s.handleRaw).Methods("GET")
	guarded.HandleFunc("/api/raw-html/{email}/{id}", s.handleRawHTML).Methods("GET")
	guarded.HandleFunc("/api/attachment/{email}/{attachment}", s.handleAttachment).Methods("GET")
	guarded.HandleFunc("/api/delete/{email}/{id}", s.handleDelete).Methods("GET")
	guarded.HandleFunc("/api/deleteaccount/{email}", s.handleDeleteAccount).Methods("GET", "POST")
	guarded.HandleFunc("/api/random", s.handleRandom).Methods("GET")
	guarded.HandleFunc("/api/listaccounts", s.handleListAccounts).Methods("GET")
	guarded.HandleFunc("/api/logs", s.handleLogs).Methods("GET")
	guarded.HandleFunc("/api/logs/{lines}", s.handleLogs).Methods("GET")
	guarded.HandleFunc("/api/admin", s.handleAdmin).Methods("GET", "POST")
	guarded.HandleFunc("/api/webhook/{action}/{email}", s.handleWebhook).Methods("GET", "POST")
	guarded.HandleFunc("/api/logout", s.handleLogout).Methods("GET", "POST")

	guarded.HandleFunc("/json/listaccounts", s.handleJSONListAccounts).Methods("GET", "POST")
	guarded.HandleFunc("/json/{email}", s.handleJSONEmail).Methods("GET")
	guarded.HandleFunc("/json/{email}/{id}", s.handleJSONEmail).Methods("GET")

	guarded.HandleFunc("/rss/{email}", s.handleRSS).Methods("GET")

	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method).Inc()
		next.ServeHTTP(w, r)
		logger.Debug("HTTP: request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", guard.ClientIP(r),
			"duration", time.Since(start))
	})
}

// guardMiddleware runs the access guard on every request and renders the
// outcome when access is denied.
func (s *Server) guardMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := s.sessions.Load(w, r)
		out := s.guard.Enforce(r, sess)
		if out.Allow {
			next.ServeHTTP(w, r)
			return
		}
		s.renderOutcome(w, out)
	})
}

func (s *Server) renderOutcome(w http.ResponseWriter, out guard.Outcome) {
	if out.Prompt != nil {
		metrics.AuthAttemptsTotal.WithLabelValues(string(out.Prompt.Gate), promptResult(out.Prompt)).Inc()
		s.renderLoginPrompt(w, out.Prompt)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(out.Status)
	fmt.Fprintln(w, out.Body)
}

func promptResult(p *guard.LoginPrompt) string {
	if p.Error != "" {
		return "failure"
	}
	return "prompt"
}

// renderLoginPrompt writes a minimal standalone login form for the gate that
// rejected the request.
func (s *Server) renderLoginPrompt(w http.ResponseWriter, p *guard.LoginPrompt) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)

	title := "Password required"
	if p.Gate == guard.GateAdmin {
		title = "Admin password required"
	}

	fmt.Fprintf(w, "<!DOCTYPE html><html><head><title>%s</title></head><body>", title)
	fmt.Fprintf(w, "<h1>%s</h1>", title)
	if p.Error != "" {
		fmt.Fprintf(w, `<p class="error">%s</p>`, html.EscapeString(p.Error))
	}
	fmt.Fprint(w, `<form method="post">`)
	fmt.Fprintf(w, `<input type="hidden" name="csrf_token" value="%s">`, html.EscapeString(p.CSRFToken))
	fmt.Fprint(w, `<input type="password" name="password" autofocus>`)
	if p.RequireCaptcha {
		fmt.Fprintf(w, `<input type="text" name="%s" placeholder="captcha token" data-challenge-url="%s">`,
			captchaFormField, captchaPath)
	}
	fmt.Fprint(w, `<button type="submit">Login</button></form></body></html>`)
}
