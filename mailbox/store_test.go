package mailbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tossmail/tossmail/consts"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	store, err := New(t.TempDir(), opts)
	require.NoError(t, err)
	return store
}

func seedMessage(t *testing.T, store *Store, address, id, subject string) {
	t.Helper()
	err := store.SaveMessage(address, id, &Message{
		From:  "sender@example.com",
		Rcpts: []string{address},
		Raw:   "Subject: " + subject + "\r\n\r\nbody of " + id,
		Parsed: ParsedMessage{
			Subject: subject,
			Body:    "body of " + id,
			From:    "sender@example.com",
		},
	})
	require.NoError(t, err)
}

func TestIsValidMessageID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"1700000000000", true},
		{"0", true},
		{"", false},
		{"12a3", false},
		{"-123", false},
		{"12.3", false},
		{"../1700000000000", false},
	}
	for _, tc := range tests {
		if got := IsValidMessageID(tc.id); got != tc.want {
			t.Errorf("IsValidMessageID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestListMessagesOrdersAndSkipsJunk(t *testing.T) {
	store := newTestStore(t, Options{})
	addr := "user@example.com"

	seedMessage(t, store, addr, "3000", "third")
	seedMessage(t, store, addr, "1000", "first")
	seedMessage(t, store, addr, "2000", "second")

	// Non-message files in the mailbox directory must be ignored.
	dir, err := store.Sandbox().Ensure(addr)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "webhook.json"), []byte(`{"enabled":true}`), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{not json`), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "4000.json"), []byte(`{not json either`), 0o640))

	rows := store.ListMessages(addr, false, false)
	require.Len(t, rows, 3)
	require.Equal(t, "1000", rows[0].ID)
	require.Equal(t, "2000", rows[1].ID)
	require.Equal(t, "3000", rows[2].ID)
	require.Equal(t, "first", rows[0].Subject)
	require.Equal(t, addr, rows[0].Address)
	require.NotEmpty(t, rows[0].Fingerprint)

	// Listing is read-only: a second call sees the same rows.
	again := store.ListMessages(addr, false, false)
	require.Equal(t, rows, again)
}

func TestListMessagesBodyAndAttachmentsFlags(t *testing.T) {
	store := newTestStore(t, Options{BaseURL: "https://mail.example.com"})
	addr := "user@example.com"

	err := store.SaveMessage(addr, "1000", &Message{
		Raw: "raw text",
		Parsed: ParsedMessage{
			Subject:     "with attachment",
			Body:        "the body",
			Attachments: []string{"abc123_file.pdf"},
		},
	})
	require.NoError(t, err)

	bare := store.ListMessages(addr, false, false)
	require.Len(t, bare, 1)
	require.Empty(t, bare[0].Body)
	require.Empty(t, bare[0].Attachments)

	full := store.ListMessages(addr, true, true)
	require.Equal(t, "the body", full[0].Body)
	require.Equal(t,
		[]string{"https://mail.example.com/api/attachment/user@example.com/abc123_file.pdf"},
		full[0].Attachments)
}

func TestAdminAggregation(t *testing.T) {
	store := newTestStore(t, Options{Admin: "admin@example.com"})

	seedMessage(t, store, "one@example.com", "1000", "a")
	seedMessage(t, store, "one@example.com", "2000", "b")
	_, err := store.Sandbox().Ensure("empty@example.com")
	require.NoError(t, err)
	seedMessage(t, store, "two@example.com", "1500", "c")

	rows := store.ListMessages("admin@example.com", false, false)
	require.Len(t, rows, 3)

	// Union rows stay tagged with their owning mailbox and globally ordered.
	require.Equal(t, "one@example.com", rows[0].Address)
	require.Equal(t, "1000", rows[0].ID)
	require.Equal(t, "two@example.com", rows[1].Address)
	require.Equal(t, "1500", rows[1].ID)
	require.Equal(t, "one@example.com", rows[2].Address)
	require.Equal(t, "2000", rows[2].ID)
}

func TestIsAdminAddress(t *testing.T) {
	store := newTestStore(t, Options{Admin: "Admin@Example.com"})
	require.True(t, store.IsAdminAddress("admin@example.com"))
	require.True(t, store.IsAdminAddress(" ADMIN@EXAMPLE.COM "))
	require.False(t, store.IsAdminAddress("user@example.com"))

	noAdmin := newTestStore(t, Options{})
	require.False(t, noAdmin.IsAdminAddress(""))
}

func TestGetMessage(t *testing.T) {
	store := newTestStore(t, Options{})
	seedMessage(t, store, "user@example.com", "1000", "hello")

	msg, err := store.GetMessage("user@example.com", "1000")
	require.NoError(t, err)
	require.Equal(t, "hello", msg.Parsed.Subject)

	_, err = store.GetMessage("user@example.com", "9999")
	require.ErrorIs(t, err, consts.ErrMessageNotFound)

	_, err = store.GetMessage("nobody@example.com", "1000")
	require.ErrorIs(t, err, consts.ErrMessageNotFound)
}

func TestDeleteMessageKeepsSiblings(t *testing.T) {
	store := newTestStore(t, Options{})
	addr := "user@example.com"
	seedMessage(t, store, addr, "1000", "keep me")
	seedMessage(t, store, addr, "2000", "delete me")

	require.True(t, store.DeleteMessage(addr, "2000"))
	require.False(t, store.MessageExists(addr, "2000"))
	require.True(t, store.MessageExists(addr, "1000"))

	// Deleting again reports failure, nothing else changes.
	require.False(t, store.DeleteMessage(addr, "2000"))
	require.True(t, store.MessageExists(addr, "1000"))
}

func TestDeleteMessageCascadesAttachments(t *testing.T) {
	store := newTestStore(t, Options{})
	addr := "user@example.com"

	require.NoError(t, store.SaveAttachment(addr, "abc_file.pdf", []byte("data")))
	err := store.SaveMessage(addr, "1000", &Message{
		Raw:    "raw",
		Parsed: ParsedMessage{Attachments: []string{"abc_file.pdf"}},
	})
	require.NoError(t, err)
	require.True(t, store.AttachmentExists(addr, "abc_file.pdf"))

	require.True(t, store.DeleteMessage(addr, "1000"))
	require.False(t, store.AttachmentExists(addr, "abc_file.pdf"))
}

func TestDeleteMailbox(t *testing.T) {
	store := newTestStore(t, Options{})
	addr := "user@example.com"
	seedMessage(t, store, addr, "1000", "x")

	require.True(t, store.DeleteMailbox(addr))
	require.False(t, store.MessageExists(addr, "1000"))

	// Absent mailbox reports false without side effects.
	require.False(t, store.DeleteMailbox(addr))
	require.False(t, store.DeleteMailbox("never-existed@example.com"))
}

func TestListAddressesOnlyValidEmails(t *testing.T) {
	store := newTestStore(t, Options{})
	seedMessage(t, store, "user@example.com", "1000", "x")

	// Stray directories that are not address-shaped must not appear.
	require.NoError(t, os.MkdirAll(filepath.Join(store.Sandbox().Base(), "not-an-address"), 0o770))

	addrs := store.ListAddresses()
	require.Equal(t, []string{"user@example.com"}, addrs)
}

func TestAttachmentPathSanitizesName(t *testing.T) {
	store := newTestStore(t, Options{})
	addr := "user@example.com"
	require.NoError(t, store.SaveAttachment(addr, "abc_file.pdf", []byte("data")))

	path, ok := store.AttachmentPath(addr, "../../abc_file.pdf")
	require.True(t, ok)
	require.Equal(t, "abc_file.pdf", filepath.Base(path))

	_, ok = store.AttachmentPath(addr, "missing.pdf")
	require.False(t, ok)
	_, ok = store.AttachmentPath(addr, "")
	require.False(t, ok)
}

func TestCountMessages(t *testing.T) {
	store := newTestStore(t, Options{})
	addr := "user@example.com"
	require.Equal(t, 0, store.CountMessages(addr))

	seedMessage(t, store, addr, "1000", "a")
	seedMessage(t, store, addr, "2000", "b")

	dir, err := store.Sandbox().Ensure(addr)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "webhook.json"), []byte(`{}`), 0o640))

	require.Equal(t, 2, store.CountMessages(addr))
}

func TestSavedDocumentLayout(t *testing.T) {
	store := newTestStore(t, Options{})
	addr := "user@example.com"

	err := store.SaveMessage(addr, "1000", &Message{
		SenderIP: "203.0.113.9",
		From:     "sender@example.com",
		Rcpts:    []string{addr},
		Raw:      "raw text",
		Parsed: ParsedMessage{
			Subject:            "s",
			Body:               "b",
			HTMLBody:           "<p>b</p>",
			From:               "sender@example.com",
			Attachments:        []string{},
			AttachmentsDetails: []AttachmentDetail{},
		},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(store.Sandbox().Resolve(addr), "1000.json"))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{"sender_ip", "from", "rcpts", "raw", "parsed"} {
		require.Contains(t, doc, key)
	}
	parsed, ok := doc["parsed"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"subject", "body", "htmlbody", "from", "attachments", "attachments_details"} {
		require.Contains(t, parsed, key)
	}
}
