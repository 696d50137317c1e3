package mailbox

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tossmail/tossmail/consts"
	"github.com/tossmail/tossmail/helpers"
	"github.com/tossmail/tossmail/logger"
)

const attachmentsDirName = "attachments"

// Store manages message files, attachments and webhook configuration for
// every mailbox under one sandboxed base directory.
type Store struct {
	sandbox *Sandbox
	backend Backend
	admin   string
	baseURL string
}

// Options configures a Store.
type Options struct {
	// Admin is the privileged address whose listing aggregates every
	// mailbox. Empty disables aggregation.
	Admin string
	// BaseURL is the public base URL used to build attachment links.
	BaseURL string
	// Backend overrides the storage backend; nil selects the filesystem.
	Backend Backend
}

// New creates a Store rooted at dataDir.
func New(dataDir string, opts Options) (*Store, error) {
	sandbox, err := NewSandbox(dataDir)
	if err != nil {
		return nil, err
	}
	backend := opts.Backend
	if backend == nil {
		backend = NewFSBackend()
	}
	return &Store{
		sandbox: sandbox,
		backend: backend,
		admin:   helpers.NormalizeAddress(opts.Admin),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}, nil
}

// Sandbox exposes the address sandbox, mainly for the receiver which writes
// through the same addressing rules.
func (s *Store) Sandbox() *Sandbox {
	return s.sandbox
}

// IsAdminAddress reports whether address is the configured admin address.
func (s *Store) IsAdminAddress(address string) bool {
	return s.admin != "" && helpers.NormalizeAddress(address) == s.admin
}

// IsValidMessageID reports whether id is a well-formed message id: a
// non-empty string of ASCII digits.
func IsValidMessageID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (s *Store) messagePath(address, id string) string {
	return filepath.Join(s.sandbox.Resolve(address), id+".json")
}

// ListAddresses enumerates every mailbox directory whose name round-trips as
// a valid email address.
func (s *Store) ListAddresses() []string {
	names, err := s.backend.ListDir(s.sandbox.Base())
	if err != nil {
		return nil
	}
	var out []string
	for _, name := range names {
		if helpers.IsValidAddress(name) {
			out = append(out, name)
		}
	}
	return out
}

// ListMessages returns the messages of a mailbox ordered ascending by numeric
// id. For the configured admin address the result is the union across every
// mailbox, each row tagged with its owning address. Unparseable entries are
// skipped; one bad file never fails the listing.
func (s *Store) ListMessages(address string, includeBody, includeAttachments bool) []MessageSummary {
	var addresses []string
	if s.IsAdminAddress(address) {
		addresses = s.ListAddresses()
	} else {
		if strings.TrimSpace(address) == "" {
			return nil
		}
		addresses = []string{helpers.NormalizeAddress(address)}
	}

	var rows []MessageSummary
	for _, addr := range addresses {
		dir := s.sandbox.Resolve(addr)
		names, err := s.backend.ListDir(dir)
		if err != nil {
			continue
		}

		for _, name := range names {
			id, ok := strings.CutSuffix(name, ".json")
			if !ok || !IsValidMessageID(id) {
				continue
			}

			// A file may vanish between enumeration and read; treat it
			// as a skip, not an error.
			data, err := s.backend.ReadFile(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil || msg.Raw == "" {
				continue
			}

			row := MessageSummary{
				Address:     addr,
				ID:          id,
				From:        msg.Parsed.From,
				Subject:     msg.Parsed.Subject,
				Fingerprint: Fingerprint(id, msg.Raw),
				Size:        len(msg.Raw),
			}
			if includeBody {
				row.Body = msg.Parsed.Body
			}
			if includeAttachments && len(msg.Parsed.Attachments) > 0 {
				row.Attachments = make([]string, 0, len(msg.Parsed.Attachments))
				for _, att := range msg.Parsed.Attachments {
					row.Attachments = append(row.Attachments, s.AttachmentURL(addr, att))
				}
			}
			rows = append(rows, row)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		a, errA := strconv.ParseInt(rows[i].ID, 10, 64)
		b, errB := strconv.ParseInt(rows[j].ID, 10, 64)
		if errA != nil || errB != nil {
			return rows[i].ID < rows[j].ID
		}
		return a < b
	})

	return rows
}

// AttachmentURL builds the public download URL of an attachment.
func (s *Store) AttachmentURL(address, filename string) string {
	return s.baseURL + "/api/attachment/" + address + "/" + filename
}

// GetMessage reads and parses one message document. Missing files and
// malformed JSON both report ErrMessageNotFound.
func (s *Store) GetMessage(address, id string) (*Message, error) {
	data, err := s.backend.ReadFile(s.messagePath(address, id))
	if err != nil {
		return nil, consts.ErrMessageNotFound
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, consts.ErrMessageNotFound
	}
	return &msg, nil
}

// GetRawMessage returns the full original transport text of a message.
func (s *Store) GetRawMessage(address, id string) (string, error) {
	msg, err := s.GetMessage(address, id)
	if err != nil {
		return "", err
	}
	return msg.Raw, nil
}

// MessageExists reports whether the message document exists.
func (s *Store) MessageExists(address, id string) bool {
	return s.backend.IsFile(s.messagePath(address, id))
}

// AttachmentExists reports whether the named attachment exists in the
// mailbox. The filename is reduced to its base name first.
func (s *Store) AttachmentExists(address, filename string) bool {
	_, ok := s.AttachmentPath(address, filename)
	return ok
}

// AttachmentPath resolves an attachment to its on-disk path. ok is false
// when the file does not exist or the name is empty after sanitization.
func (s *Store) AttachmentPath(address, filename string) (string, bool) {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", false
	}
	path := filepath.Join(s.sandbox.Resolve(address), attachmentsDirName, name)
	if !s.backend.IsFile(path) {
		return "", false
	}
	return path, true
}

// DeleteMessage removes a message and best-effort-deletes every attachment it
// references. Individual attachment failures are ignored; the return value
// reflects only the deletion of the message document itself.
func (s *Store) DeleteMessage(address, id string) bool {
	dir := s.sandbox.Resolve(address)

	if msg, err := s.GetMessage(address, id); err == nil {
		for _, att := range msg.Parsed.Attachments {
			name := filepath.Base(att)
			if name == "." || name == "" {
				continue
			}
			if err := s.backend.Remove(filepath.Join(dir, attachmentsDirName, name)); err != nil {
				logger.Debug("attachment delete failed", "address", address, "attachment", name, "error", err)
			}
		}
	}

	if err := s.backend.Remove(filepath.Join(dir, id+".json")); err != nil {
		return false
	}
	return true
}

// DeleteMailbox recursively deletes a mailbox directory tree. Returns false
// without touching anything when the directory does not exist. The path
// always comes out of the sandbox, so a crafted address cannot reach outside
// the base directory.
func (s *Store) DeleteMailbox(address string) bool {
	dir := s.sandbox.Resolve(address)
	if !s.backend.IsDir(dir) {
		return false
	}
	if err := s.backend.RemoveTree(dir); err != nil {
		logger.Error("failed to delete mailbox", "address", address, "error", err)
		return false
	}
	return true
}

// CountMessages returns the number of message files in the mailbox.
func (s *Store) CountMessages(address string) int {
	names, err := s.backend.ListDir(s.sandbox.Resolve(address))
	if err != nil {
		return 0
	}
	count := 0
	for _, name := range names {
		if id, ok := strings.CutSuffix(name, ".json"); ok && IsValidMessageID(id) {
			count++
		}
	}
	return count
}
