// Package scrun implements the OCI runtime front-end verbs. Each verb
// is a short-lived client: container state lives with a long-running
// per-container anchor process reached over a unix socket, and the
// controller's job API serves as the fallback when the anchor is gone.
package scrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hpckit/slurmc/pkg/api"
	"github.com/hpckit/slurmc/pkg/log"
)

// ErrNotStartable reports an immediate-start refusal from the anchor.
var ErrNotStartable = errors.New("container can not start immediately")

const recordFile = "container.json"

// record is the client-side breadcrumb kept in the spool directory so
// later verbs can find the backing job without a live anchor.
type record struct {
	ID         string            `json:"id"`
	Bundle     string            `json:"bundle"`
	OCIVersion string            `json:"oci_version"`
	Anns       map[string]string `json:"annotations,omitempty"`
	Terminal   bool              `json:"terminal"`
	JobID      uint32            `json:"job_id,omitempty"`
}

// Frontend binds the verbs to a runtime root and a controller client.
type Frontend struct {
	Root string
	API  *api.Client

	// SpawnAnchor launches the per-container anchor. The default
	// leaves spawning to an external supervisor arrangement.
	SpawnAnchor func(root, id string, b *Bundle) error
}

func (f *Frontend) anchor(id string) *Anchor {
	return NewAnchor(SocketPath(f.Root, id))
}

func (f *Frontend) writeRecord(id string, r *record) error {
	dir, err := SpoolDir(f.Root, id, true)
	if err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, recordFile), data, 0o600)
}

func (f *Frontend) readRecord(id string) (*record, error) {
	dir, err := SpoolDir(f.Root, id, false)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, recordFile))
	if err != nil {
		return nil, err
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Create loads the bundle, propagates its recognised environment,
// prepares the spool directory, and spawns the anchor.
func (f *Frontend) Create(bundleDir, id string) error {
	b, err := LoadBundle(bundleDir)
	if err != nil {
		return err
	}
	if err := b.ExportEnv(); err != nil {
		return err
	}
	r := &record{
		ID:         id,
		Bundle:     b.Path,
		OCIVersion: b.OCIVersion,
		Anns:       b.Annotations,
		Terminal:   b.Terminal,
	}
	if err := f.writeRecord(id, r); err != nil {
		return err
	}
	l := log.WithContainerID(id)
	l.Debug().Str("bundle", b.Path).Msg("container created")
	if f.SpawnAnchor != nil {
		return f.SpawnAnchor(f.Root, id, b)
	}
	return nil
}

// Start asks the anchor to run the container's job step.
func (f *Frontend) Start(ctx context.Context, id string) error {
	info, err := f.anchor(id).Start(ctx)
	if err != nil {
		if info != nil && info.Errno == api.ErrnoImmediate {
			return ErrNotStartable
		}
		return err
	}
	if info.JobID != 0 {
		if r, rerr := f.readRecord(id); rerr == nil {
			r.JobID = info.JobID
			_ = f.writeRecord(id, r)
		}
	}
	l := log.WithContainerID(id)
	l.Debug().Uint32("job_id", info.JobID).
		Uint32("step_id", info.StepID).Msg("container started")
	return nil
}

// State queries the anchor and writes the OCI state document to w.
func (f *Frontend) State(ctx context.Context, id string, w io.Writer) error {
	info, err := f.anchor(id).Query(ctx)
	if err != nil {
		return err
	}
	st := &State{
		OCIVersion:  info.OCIVersion,
		ID:          id,
		Status:      ParseStatus(info.Status).OCIStatus(),
		PID:         info.PID,
		Bundle:      info.Bundle,
		Annotations: info.Annotations,
	}
	if st.Annotations == nil {
		st.Annotations = map[string]string{}
	}
	return st.Write(w)
}

// Kill signals the container. Terminal containers are left alone; with
// the anchor gone the signal goes straight to the backing job.
func (f *Frontend) Kill(ctx context.Context, id string, sig int) error {
	a := f.anchor(id)
	if info, err := a.Query(ctx); err == nil && ParseStatus(info.Status).Terminal() {
		return nil
	}
	_, err := a.Kill(ctx, sig)
	if errors.Is(err, ErrAnchorGone) {
		return f.signalJob(ctx, id, sig)
	}
	return err
}

// Delete tears the container down. With the anchor gone, --force
// assumes the container is already gone; otherwise the backing job
// gets a plain signal.
func (f *Frontend) Delete(ctx context.Context, id string, sig int, force bool) error {
	_, err := f.anchor(id).Delete(ctx, force)
	if errors.Is(err, ErrAnchorGone) {
		if force {
			err = nil
		} else {
			err = f.signalJob(ctx, id, sig)
		}
	}
	if err != nil {
		return err
	}
	dir, derr := SpoolDir(f.Root, id, false)
	if derr == nil {
		_ = os.RemoveAll(dir)
	}
	return nil
}

func (f *Frontend) signalJob(ctx context.Context, id string, sig int) error {
	r, err := f.readRecord(id)
	if err != nil || r.JobID == 0 {
		return fmt.Errorf("container %s: no anchor and no backing job", id)
	}
	l := log.WithContainerID(id)
	l.Debug().Uint32("job_id", r.JobID).Int("signal", sig).
		Msg("anchor gone, signalling job directly")
	return f.API.SignalJob(ctx, r.JobID, sig)
}
