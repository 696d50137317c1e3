package mailbox

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tossmail/tossmail/consts"
)

// NextMessageID returns a free time-derived message id for the mailbox:
// milliseconds since epoch, probed upward until unused. Two deliveries in the
// same millisecond therefore get consecutive ids instead of overwriting each
// other, and ids stay numeric and time-ordered.
func (s *Store) NextMessageID(address string) string {
	base := time.Now().UnixMilli()
	for {
		id := strconv.FormatInt(base, 10)
		if !s.MessageExists(address, id) {
			return id
		}
		base++
	}
}

// SaveMessage writes a message document under the given id. The mailbox
// directory is created if needed.
func (s *Store) SaveMessage(address, id string, msg *Message) error {
	dir, err := s.sandbox.Ensure(address)
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", consts.ErrSerializationFailed, err)
	}
	if err := s.backend.WriteFile(filepath.Join(dir, id+".json"), data, 0o640); err != nil {
		return fmt.Errorf("%w: writing message %s: %v", consts.ErrStorageFailed, id, err)
	}
	return nil
}

// SaveAttachment writes one attachment file into the mailbox's attachments
// directory. The filename is reduced to its base name first.
func (s *Store) SaveAttachment(address, filename string, data []byte) error {
	dir, err := s.sandbox.Ensure(address)
	if err != nil {
		return err
	}

	name := filepath.Base(filename)
	if name == "." || name == "" {
		return fmt.Errorf("%w: empty attachment name", consts.ErrStorageFailed)
	}

	attDir := filepath.Join(dir, attachmentsDirName)
	if err := s.backend.MkdirAll(attDir, 0o770); err != nil {
		return fmt.Errorf("%w: creating attachments directory: %v", consts.ErrStorageFailed, err)
	}
	if err := s.backend.WriteFile(filepath.Join(attDir, name), data, 0o640); err != nil {
		return fmt.Errorf("%w: writing attachment %s: %v", consts.ErrStorageFailed, name, err)
	}
	return nil
}
