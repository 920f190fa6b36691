package scrun

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sys/unix"
)

// socketHashKey keys the socket-path hash so paths are stable across
// runs but not trivially predictable from the container id alone.
var socketHashKey = []byte("scrun-anchor-v1")

// RuntimeRoot picks the per-user runtime directory when --root is not
// given: $XDG_RUNTIME_DIR, then /run/user/$UID, then $TMPDIR/$UID.
// The first candidate that is readable and writable wins.
func RuntimeRoot() (string, error) {
	uid := os.Getuid()
	if uid == 0 && inUserNamespace() {
		return "", errors.New("running as uid 0 inside a user namespace, specify --root")
	}
	var candidates []string
	if d := os.Getenv("XDG_RUNTIME_DIR"); d != "" {
		candidates = append(candidates, d)
	}
	candidates = append(candidates, fmt.Sprintf("/run/user/%d", uid))
	tmp := os.Getenv("TMPDIR")
	if tmp == "" {
		tmp = os.TempDir()
	}
	candidates = append(candidates, filepath.Join(tmp, fmt.Sprint(uid)))

	for _, dir := range candidates {
		_ = os.MkdirAll(dir, 0o700)
		if unix.Access(dir, unix.R_OK|unix.W_OK) == nil {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no usable runtime root among %v", candidates)
}

// inUserNamespace reports whether the current uid map is not the
// identity map, which is what a rootless user namespace looks like.
func inUserNamespace() bool {
	data, err := os.ReadFile("/proc/self/uid_map")
	if err != nil {
		return false
	}
	var inside, outside, count int
	if _, err := fmt.Sscan(string(data), &inside, &outside, &count); err != nil {
		return false
	}
	return inside != 0 || outside != 0 || count != 1<<32
}

// SocketPath derives the anchor's unix socket path for a container.
// OCI ids have no length limit but sun_path does, so the id is
// collapsed through a keyed hash and the first nine bytes formatted as
// hex.
func SocketPath(root, containerID string) string {
	username := fmt.Sprint(os.Getuid())
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	h, _ := blake2b.New256(socketHashKey)
	fmt.Fprintf(h, "scrun-%s-anchor-%s", username, containerID)
	sum := h.Sum(nil)
	return filepath.Join(root, hex.EncodeToString(sum[:9]))
}

// SpoolDir returns the per-container spool directory, creating it with
// owner-only permissions when create is set.
func SpoolDir(root, containerID string, create bool) (string, error) {
	dir := filepath.Join(root, containerID)
	if create {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("create spool dir: %w", err)
		}
	}
	return dir, nil
}
