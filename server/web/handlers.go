package web

import (
	"crypto/subtle"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tossmail/tossmail/helpers"
	"github.com/tossmail/tossmail/logger"
	"github.com/tossmail/tossmail/mailbox"
	"github.com/tossmail/tossmail/pkg/metrics"
)

const defaultLogLines = 100

// addressResponse is the inbox listing payload.
type addressResponse struct {
	Email    string                   `json:"email"`
	Messages []mailbox.MessageSummary `json:"messages"`
}

type webhookResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("HTTP: response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	http.Error(w, message, status)
}

// requestEmail resolves the target address from the route or, failing that,
// the query string and form body.
func requestEmail(r *http.Request) string {
	if email := mux.Vars(r)["email"]; email != "" {
		return helpers.NormalizeAddress(email)
	}
	return helpers.NormalizeAddress(r.FormValue("email"))
}

func requestID(r *http.Request) string {
	if id := mux.Vars(r)["id"]; id != "" {
		return id
	}
	return r.FormValue("id")
}

func (s *Server) handleCaptchaRequest(w http.ResponseWriter, r *http.Request) {
	s.captcha.HandleChallenge(w, r)
}

func (s *Server) handleIntro(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "tossmail",
		"domains": s.cfg.General.NormalizedDomains(),
	})
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	email := requestEmail(r)
	if !helpers.IsValidAddress(email) {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	// Opening an inbox creates it, so the address immediately starts
	// receiving mail.
	if _, err := s.store.Sandbox().Ensure(email); err != nil {
		logger.Error("HTTP: mailbox create failed", "address", email, "error", err)
	}

	s.writeListing(w, email)
}

func (s *Server) writeListing(w http.ResponseWriter, email string) {
	rows := s.store.ListMessages(email, false, false)
	if rows == nil {
		rows = []mailbox.MessageSummary{}
	}
	writeJSON(w, http.StatusOK, addressResponse{Email: email, Messages: rows})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	email, id := requestEmail(r), requestID(r)
	if !helpers.IsValidAddress(email) {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}
	if !mailbox.IsValidMessageID(id) {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	msg, err := s.store.GetMessage(email, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Email not found")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	email, id := requestEmail(r), requestID(r)
	if !helpers.IsValidAddress(email) {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}
	if !mailbox.IsValidMessageID(id) {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	raw, err := s.store.GetRawMessage(email, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Email not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(raw))
}

func (s *Server) handleRawHTML(w http.ResponseWriter, r *http.Request) {
	email, id := requestEmail(r), requestID(r)
	if !helpers.IsValidAddress(email) {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}
	if !mailbox.IsValidMessageID(id) {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	msg, err := s.store.GetMessage(email, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Email not found")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(msg.Parsed.HTMLBody))
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	email := requestEmail(r)
	attachment := mux.Vars(r)["attachment"]
	if !helpers.IsValidAddress(email) {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	path, ok := s.store.AttachmentPath(email, attachment)
	if !ok {
		writeError(w, http.StatusNotFound, "Attachment not found")
		return
	}

	w.Header().Set("Content-Disposition", `inline; filename="`+attachment+`"`)
	http.ServeFile(w, r, path)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	email, id := requestEmail(r), requestID(r)
	if !helpers.IsValidAddress(email) {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}
	if !mailbox.IsValidMessageID(id) {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}
	if !s.store.MessageExists(email, id) {
		writeError(w, http.StatusNotFound, "Email not found")
		return
	}

	if s.store.DeleteMessage(email, id) {
		metrics.MessagesDeletedTotal.Inc()
	}
	s.writeListing(w, email)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	email := requestEmail(r)
	if !helpers.IsValidAddress(email) {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	s.store.DeleteMailbox(email)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRandom(w http.ResponseWriter, r *http.Request) {
	email := RandomAddress(s.cfg.General.NormalizedDomains())
	if email == "" {
		writeError(w, http.StatusInternalServerError, "No domains configured")
		return
	}
	if _, err := s.store.Sandbox().Ensure(email); err != nil {
		logger.Error("HTTP: mailbox create failed", "address", email, "error", err)
	}
	s.writeListing(w, email)
}

// canSeeAdminViews gates the account list and the log view: the feature
// toggle must be on, and when an admin password is set the session must have
// passed the admin gate.
func (s *Server) canSeeAdminViews(r *http.Request, enabled bool) bool {
	if !enabled {
		return false
	}
	if s.cfg.Web.AdminPassword == "" {
		return true
	}
	sess, ok := s.sessions.Lookup(r)
	return ok && s.guard.IsAdmin(sess)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	if !s.canSeeAdminViews(r, s.cfg.General.ShowAccountList) {
		writeError(w, http.StatusForbidden, "403 Forbidden")
		return
	}
	accounts := s.store.ListAddresses()
	if accounts == nil {
		accounts = []string{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if !s.canSeeAdminViews(r, s.cfg.General.ShowLogs) {
		writeError(w, http.StatusForbidden, "403 Forbidden")
		return
	}

	lines := defaultLogLines
	if raw := mux.Vars(r)["lines"]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			lines = n
		}
	}

	switch s.cfg.Logging.Output {
	case "", "stderr", "stdout", "syslog":
		writeError(w, http.StatusNotFound, "Log output is not a file")
		return
	}

	tail, err := TailFile(s.cfg.Logging.Output, lines)
	if err != nil {
		writeError(w, http.StatusNotFound, "Log file not readable")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(tail))
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.General.AdminEnabled {
		writeError(w, http.StatusForbidden, "403 Not activated in config.ini")
		return
	}

	accounts := s.store.ListAddresses()
	total := 0
	for _, addr := range accounts {
		total += s.store.CountMessages(addr)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts":       len(accounts),
		"total_messages": total,
		"admin":          s.cfg.General.Admin,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	email := requestEmail(r)
	if email == "" {
		writeError(w, http.StatusBadRequest, "400 Bad Request: missing email")
		return
	}
	if !helpers.IsValidAddress(email) {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	switch action {
	case "get":
		cfg, ok := s.store.GetWebhookConfig(email)
		if !ok {
			writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
			return
		}
		writeJSON(w, http.StatusOK, cfg)

	case "save":
		s.saveWebhook(w, r, email)

	case "delete":
		if s.store.DeleteWebhookConfig(email) {
			writeJSON(w, http.StatusOK, webhookResult{Success: true, Message: "Webhook configuration deleted"})
			return
		}
		writeJSON(w, http.StatusOK, webhookResult{Success: false, Message: "Failed to delete webhook configuration"})

	default:
		writeError(w, http.StatusNotFound, "404 Not Found")
	}
}

func (s *Server) saveWebhook(w http.ResponseWriter, r *http.Request, email string) {
	cfg := &mailbox.WebhookConfig{
		Enabled:         parseBool(r.FormValue("enabled")),
		WebhookURL:      r.FormValue("webhook_url"),
		PayloadTemplate: r.FormValue("payload_template"),
		SecretKey:       r.FormValue("secret_key"),
		Retry: mailbox.RetryConfig{
			MaxAttempts:       3,
			BackoffMultiplier: 2.0,
		},
	}
	if cfg.PayloadTemplate == "" {
		cfg.PayloadTemplate = mailbox.DefaultPayloadTemplate
	}
	if raw := r.FormValue("max_attempts"); raw != "" {
		cfg.Retry.MaxAttempts, _ = strconv.Atoi(raw)
	}
	if raw := r.FormValue("backoff_multiplier"); raw != "" {
		cfg.Retry.BackoffMultiplier, _ = strconv.ParseFloat(raw, 64)
	}

	if err := s.store.SaveWebhookConfig(email, cfg); err != nil {
		var verr *mailbox.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusOK, webhookResult{Success: false, Message: verr.Message})
			return
		}
		logger.Error("HTTP: webhook save failed", "address", email, "error", err)
		writeJSON(w, http.StatusOK, webhookResult{Success: false, Message: "Failed to save webhook configuration"})
		return
	}
	writeJSON(w, http.StatusOK, webhookResult{Success: true, Message: "Webhook configuration saved"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.sessions.Lookup(r); ok {
		s.guard.Logout(sess)
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/")
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleJSONListAccounts(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.General.ShowAccountList {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "403 Forbidden"})
		return
	}
	if admin := s.cfg.Web.AdminPassword; admin != "" {
		got := r.FormValue("password")
		if subtle.ConstantTimeCompare([]byte(admin), []byte(got)) != 1 {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "403 Forbidden"})
			return
		}
	}
	accounts := s.store.ListAddresses()
	if accounts == nil {
		accounts = []string{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleJSONEmail(w http.ResponseWriter, r *http.Request) {
	email := requestEmail(r)
	if !helpers.IsValidAddress(email) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Email not found"})
		return
	}

	if id := requestID(r); id != "" {
		if !mailbox.IsValidMessageID(id) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid ID"})
			return
		}
		msg, err := s.store.GetMessage(email, id)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Email ID not found"})
			return
		}
		writeJSON(w, http.StatusOK, msg)
		return
	}

	rows := s.store.ListMessages(email, true, true)
	if rows == nil {
		rows = []mailbox.MessageSummary{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// RSS

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description"`
}

func (s *Server) handleRSS(w http.ResponseWriter, r *http.Request) {
	email := requestEmail(r)
	if !helpers.IsValidAddress(email) {
		writeError(w, http.StatusNotFound, "Error: Email not found")
		return
	}

	base := s.cfg.General.URL
	rows := s.store.ListMessages(email, true, false)
	items := make([]rssItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, rssItem{
			Title:       row.Subject,
			Link:        base + "/api/read/" + row.Address + "/" + row.ID,
			GUID:        row.Fingerprint,
			PubDate:     messageTime(row.ID).Format(time.RFC1123Z),
			Description: row.Body,
		})
	}

	feed := rssFeed{
		Version: "2.0",
		Channel: rssChannel{
			Title:       "Inbox for " + email,
			Link:        base,
			Description: "Messages received for " + email,
			Items:       items,
		},
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write([]byte(xml.Header))
	if err := xml.NewEncoder(w).Encode(feed); err != nil {
		logger.Debug("HTTP: rss encode failed", "error", err)
	}
}

// messageTime converts a millisecond-epoch message id into a timestamp.
func messageTime(id string) time.Time {
	ms, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return raw == "on"
	}
	return v
}
