// Package mailserver implements the SMTP receiver. It accepts mail on a
// plaintext (optionally STARTTLS) listener and an optional implicit-TLS
// listener, stores every accepted message in the mailbox store and hands it
// to the webhook dispatcher.
package mailserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/emersion/go-smtp"

	"github.com/tossmail/tossmail/config"
	"github.com/tossmail/tossmail/logger"
	"github.com/tossmail/tossmail/mailbox"
)

// Backend creates one receiver session per SMTP connection.
type Backend struct {
	cfg   *config.Config
	store *mailbox.Store
	hooks *WebhookDispatcher
}

// NewSession implements smtp.Backend.
func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	var ip string
	if addr, ok := c.Conn().RemoteAddr().(*net.TCPAddr); ok {
		ip = addr.IP.String()
	}
	logger.Debug("SMTP: new connection", "remote", c.Conn().RemoteAddr().String())
	return &Session{backend: b, senderIP: ip}, nil
}

// Server runs the SMTP listeners.
type Server struct {
	cfg      *config.Config
	plain    *smtp.Server
	implicit *smtp.Server
}

// New builds the receiver. The implicit-TLS listener is only created when
// mailserver.tls_addr is configured; the plaintext listener advertises
// STARTTLS whenever certificates are present.
func New(cfg *config.Config, store *mailbox.Store, hooks *WebhookDispatcher) (*Server, error) {
	backend := &Backend{cfg: cfg, store: store, hooks: hooks}

	var tlsConfig *tls.Config
	if cfg.Mailserver.TLSCertFile != "" && cfg.Mailserver.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Mailserver.TLSCertFile, cfg.Mailserver.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading mailserver TLS certificate: %w", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
			ServerName:   cfg.Mailserver.Hostname,
		}
	}

	s := &Server{cfg: cfg}

	s.plain = newSMTPServer(backend, cfg)
	s.plain.Addr = cfg.Mailserver.Addr
	s.plain.TLSConfig = tlsConfig // enables STARTTLS when non-nil

	if cfg.Mailserver.TLSAddr != "" {
		if tlsConfig == nil {
			return nil, fmt.Errorf("mailserver.tls_addr set without TLS certificates")
		}
		s.implicit = newSMTPServer(backend, cfg)
		s.implicit.Addr = cfg.Mailserver.TLSAddr
		s.implicit.TLSConfig = tlsConfig
	}

	return s, nil
}

func newSMTPServer(backend *Backend, cfg *config.Config) *smtp.Server {
	srv := smtp.NewServer(backend)
	srv.Domain = cfg.Mailserver.Hostname
	srv.Network = "tcp"
	srv.MaxMessageBytes = cfg.Mailserver.MaxMessageSize
	srv.MaxRecipients = 100
	srv.AllowInsecureAuth = true
	srv.EnableSMTPUTF8 = true
	return srv
}

// Start launches the listeners. Fatal listener errors are reported on
// errChan; context cancellation shuts both listeners down.
func (s *Server) Start(ctx context.Context, errChan chan<- error) {
	go func() {
		logger.Info("SMTP: listening", "addr", s.plain.Addr, "starttls", s.plain.TLSConfig != nil)
		if err := s.plain.ListenAndServe(); err != nil && ctx.Err() == nil {
			errChan <- fmt.Errorf("SMTP listener on %s failed: %w", s.plain.Addr, err)
		}
	}()

	if s.implicit != nil {
		go func() {
			logger.Info("SMTP: listening with implicit TLS", "addr", s.implicit.Addr)
			if err := s.implicit.ListenAndServeTLS(); err != nil && ctx.Err() == nil {
				errChan <- fmt.Errorf("SMTP TLS listener on %s failed: %w", s.implicit.Addr, err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		logger.Info("SMTP: shutting down")
		if err := s.plain.Close(); err != nil {
			logger.Debug("SMTP: close error", "error", err)
		}
		if s.implicit != nil {
			if err := s.implicit.Close(); err != nil {
				logger.Debug("SMTP: close error", "error", err)
			}
		}
	}()
}
