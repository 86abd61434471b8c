// Package script turns a hook directory into an ordered, security-filtered
// set of launchable script descriptors.
//
// Hooks live under <script_root>/<state>.d/ and run as
// `<script> <state> <iface>`. A filename stem ending in "-nowait" selects
// fire-and-forget execution.
package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("module", "script")

// ErrNoPathFound is returned for a missing hook directory when strict mode is
// enabled. The default policy treats a missing directory as "no hooks".
var ErrNoPathFound = errors.New("script directory does not exist")

// NoWaitSuffix marks fire-and-forget scripts, matched against the filename
// stem (final extension stripped).
const NoWaitSuffix = "-nowait"

// Policy is the ownership/permission gate a script must pass to be eligible.
type Policy struct {
	RequiredUID uint32
	RequiredGID uint32

	// MinMode is the minimum permission bits; every bit set here must be
	// set on the script.
	MinMode os.FileMode
}

// DefaultPolicy requires root ownership and owner read+execute, the contract
// for production hook directories.
func DefaultPolicy() Policy {
	return Policy{RequiredUID: 0, RequiredGID: 0, MinMode: 0o500}
}

// Descriptor represents one discovered executable hook.
type Descriptor struct {
	Path string

	// Name is the bare filename, the deterministic ordering key. Callers
	// rely on numeric prefixes (00-, 05-, 10-) for sequencing.
	Name string

	UID uint32
	GID uint32

	// NoWait is true when the filename stem carries the -nowait suffix.
	NoWait bool
}

// Discovery lists and filters hook scripts for link states.
type Discovery struct {
	// Root is the script root; state directories are <Root>/<state>.d.
	Root string

	Policy Policy

	// Strict makes a missing state directory an ErrNoPathFound error
	// instead of an empty result.
	Strict bool
}

// NewDiscovery returns a Discovery rooted at root with the default policy.
func NewDiscovery(root string) *Discovery {
	return &Discovery{Root: root, Policy: DefaultPolicy()}
}

// StateDir returns the hook directory for a state.
func (d *Discovery) StateDir(state string) string {
	return filepath.Join(d.Root, state+".d")
}

// ScriptsFor returns the ordered, filtered hook set for a state. Most states
// legitimately have no hooks, so a missing directory yields an empty result
// unless strict mode is on.
func (d *Discovery) ScriptsFor(state string) ([]Descriptor, error) {
	return d.Collect(d.StateDir(state))
}

// Collect lists the direct children of dir and returns descriptors for every
// entry that passes the security filter, ordered lexicographically by name.
func (d *Discovery) Collect(dir string) ([]Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if d.Strict {
				return nil, fmt.Errorf("%w: %s", ErrNoPathFound, dir)
			}
			logger.WithField("dir", dir).Debug("Hook directory does not exist")
			return nil, nil
		}
		return nil, fmt.Errorf("read hook directory %s: %w", dir, err)
	}

	var scripts []Descriptor
	// os.ReadDir sorts by filename, which is exactly the ordering contract.
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		desc, reason := d.inspect(path, entry.Name())
		if desc == nil {
			logger.WithFields(logrus.Fields{
				"script": path,
				"reason": reason,
			}).Debug("Skipping ineligible entry")
			continue
		}

		scripts = append(scripts, *desc)
	}

	return scripts, nil
}

// inspect applies the security filter to one directory entry, following
// symlinks for the existence and mode checks. A nil descriptor comes with a
// diagnosable skip reason.
func (d *Discovery) inspect(path, name string) (*Descriptor, string) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Sprintf("stat failed: %v", err)
	}

	if info.IsDir() {
		return nil, "is a directory"
	}

	if !info.Mode().IsRegular() {
		return nil, "not a regular file"
	}

	if info.Mode().Perm()&d.Policy.MinMode != d.Policy.MinMode {
		return nil, fmt.Sprintf("mode %04o lacks required bits %04o", info.Mode().Perm(), d.Policy.MinMode)
	}

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, "no ownership information"
	}

	if stat.Uid != d.Policy.RequiredUID {
		return nil, fmt.Sprintf("uid %d != required %d", stat.Uid, d.Policy.RequiredUID)
	}

	if stat.Gid != d.Policy.RequiredGID {
		return nil, fmt.Sprintf("gid %d != required %d", stat.Gid, d.Policy.RequiredGID)
	}

	return &Descriptor{
		Path:   path,
		Name:   name,
		UID:    stat.Uid,
		GID:    stat.Gid,
		NoWait: IsNoWait(name),
	}, ""
}

// IsNoWait reports whether a filename selects fire-and-forget execution: the
// stem (final extension stripped) ends with -nowait.
func IsNoWait(name string) bool {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.HasSuffix(stem, NoWaitSuffix)
}
