package scrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// ErrAnchorGone reports that no anchor is listening on the container's
// socket. Callers fall back to signalling the backing job directly.
var ErrAnchorGone = errors.New("anchor not reachable")

// anchorRequest is one JSON message to the anchor. One request and one
// response per connection.
type anchorRequest struct {
	Op     string `json:"op"` // state, start, kill, delete
	Signal int    `json:"signal,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// AnchorInfo is the anchor's view of the container, returned by every
// op.
type AnchorInfo struct {
	Status      string            `json:"status"`
	PID         int               `json:"pid"`
	JobID       uint32            `json:"job_id"`
	StepID      uint32            `json:"step_id"`
	OCIVersion  string            `json:"oci_version"`
	Bundle      string            `json:"bundle"`
	Annotations map[string]string `json:"annotations"`
	Errno       string            `json:"errno,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Anchor talks to one container's anchor process over its unix socket.
type Anchor struct {
	path    string
	timeout time.Duration
}

// NewAnchor returns a client for the container socket at path.
func NewAnchor(path string) *Anchor {
	return &Anchor{path: path, timeout: 10 * time.Second}
}

func (a *Anchor) call(ctx context.Context, req *anchorRequest) (*AnchorInfo, error) {
	d := net.Dialer{Timeout: a.timeout}
	conn, err := d.DialContext(ctx, "unix", a.path)
	if err != nil {
		// a dead or not-yet-started anchor is an expected race
		if errors.Is(err, unix.ECONNREFUSED) || errors.Is(err, unix.ENOENT) {
			return nil, ErrAnchorGone
		}
		return nil, fmt.Errorf("dial anchor: %w", err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Now().Add(a.timeout))
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("send anchor request: %w", err)
	}
	var info AnchorInfo
	if err := json.NewDecoder(conn).Decode(&info); err != nil {
		return nil, fmt.Errorf("read anchor response: %w", err)
	}
	if info.Error != "" {
		return &info, fmt.Errorf("anchor: %s", info.Error)
	}
	return &info, nil
}

// Query fetches the container's current state.
func (a *Anchor) Query(ctx context.Context) (*AnchorInfo, error) {
	return a.call(ctx, &anchorRequest{Op: "state"})
}

// Start asks the anchor to launch the container's job step.
func (a *Anchor) Start(ctx context.Context) (*AnchorInfo, error) {
	return a.call(ctx, &anchorRequest{Op: "start"})
}

// Kill delivers a signal to the container via the anchor.
func (a *Anchor) Kill(ctx context.Context, sig int) (*AnchorInfo, error) {
	return a.call(ctx, &anchorRequest{Op: "kill", Signal: sig})
}

// Delete asks the anchor to tear the container down.
func (a *Anchor) Delete(ctx context.Context, force bool) (*AnchorInfo, error) {
	return a.call(ctx, &anchorRequest{Op: "delete", Force: force})
}
