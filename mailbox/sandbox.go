// Package mailbox implements the filesystem-backed mailbox store: one
// directory per normalized address under a fixed base directory, one JSON
// document per message, attachments alongside, and an optional per-mailbox
// webhook configuration file.
//
// Authorization is not checked here. In particular, the admin aggregation in
// Store.ListMessages triggers on nothing but address equality with the
// configured admin address; callers must gate access to that address behind
// an authenticated admin session before asking the store for it.
package mailbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tossmail/tossmail/consts"
	"github.com/tossmail/tossmail/helpers"
	"github.com/tossmail/tossmail/logger"
)

// pathReplacer neutralizes every path-separator-like sequence and NUL before
// an address is used as a directory name.
var pathReplacer = strings.NewReplacer(
	"../", "_",
	"..\\", "_",
	"/", "_",
	"\\", "_",
	"\x00", "_",
)

// Sandbox maps email-like strings to directories contained in a fixed base
// directory. A crafted address can never resolve outside the base: containment
// failure degrades to a path that simply does not exist on disk, which callers
// treat the same as an absent mailbox.
type Sandbox struct {
	base     string
	realBase string
}

// NewSandbox creates a sandbox rooted at baseDir. The directory is created if
// missing so the canonical base path can be computed up front.
func NewSandbox(baseDir string) (*Sandbox, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving base directory %q: %w", baseDir, err)
	}
	if err := os.MkdirAll(abs, 0o770); err != nil {
		return nil, fmt.Errorf("creating base directory %q: %w", abs, err)
	}

	realBase, err := filepath.EvalSymlinks(abs)
	if err != nil {
		realBase = abs
	}

	return &Sandbox{base: abs, realBase: realBase}, nil
}

// Base returns the sandbox base directory.
func (s *Sandbox) Base() string {
	return s.base
}

// Resolve maps an address to its mailbox directory. The address is lowercased
// and every separator-like sequence replaced by '_' before joining with the
// base directory. If the canonicalized result leaves the base, the
// uncanonicalized joined path is returned instead; it does not exist on disk,
// so every lookup through it reports not-found.
func (s *Sandbox) Resolve(address string) string {
	name := pathReplacer.Replace(helpers.NormalizeAddress(address))
	joined := filepath.Join(s.base, name)

	// Join cleans the path; a name that collapsed into the base itself (or
	// above it) must not be handed back as a usable directory.
	if joined == s.base || !strings.HasPrefix(joined, s.base+string(filepath.Separator)) {
		return filepath.Join(s.base, "_")
	}

	real, err := filepath.EvalSymlinks(joined)
	if err != nil {
		// Path does not exist yet (common) or cannot be canonicalized;
		// the joined path is already contained by construction.
		return joined
	}
	if real == s.realBase || !strings.HasPrefix(real, s.realBase+string(filepath.Separator)) {
		// Symlinked escape: fail closed by handing back the non-escaping
		// join, never the out-of-sandbox target.
		return joined
	}
	return real
}

// Ensure resolves the mailbox directory and creates it (with parents) if
// absent. Idempotent.
func (s *Sandbox) Ensure(address string) (string, error) {
	dir := s.Resolve(address)

	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir, nil
	}

	if err := os.MkdirAll(dir, 0o770); err != nil {
		logger.Error("failed to create mailbox directory", "dir", dir, "error", err)
		return "", fmt.Errorf("%w: creating mailbox directory: %v", consts.ErrStorageFailed, err)
	}
	return dir, nil
}
