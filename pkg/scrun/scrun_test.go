package scrun

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpckit/slurmc/pkg/api"
	"github.com/hpckit/slurmc/pkg/config"
)

func TestSocketPathDeterministic(t *testing.T) {
	a := SocketPath("/run/user/1000", "my-container")
	b := SocketPath("/run/user/1000", "my-container")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, SocketPath("/run/user/1000", "other"))

	// nine hash bytes as hex, regardless of id length
	long := SocketPath("/tmp", strings.Repeat("x", 4096))
	assert.Len(t, filepath.Base(long), 18)
}

func TestStatusProjection(t *testing.T) {
	tests := []struct {
		in   Status
		want string
	}{
		{StatusStarting, "creating"},
		{StatusCreating, "creating"},
		{StatusCreated, "created"},
		{StatusRunning, "running"},
		{StatusStopping, "stopped"},
		{StatusStopped, "stopped"},
		{StatusUnknown, "stopped"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.OCIStatus(), tt.in.String())
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusStopped.Terminal())
	assert.True(t, StatusStopping.Terminal())
	assert.True(t, StatusUnknown.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusCreated.Terminal())
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusRunning, ParseStatus("RUNNING"))
	assert.Equal(t, StatusUnknown, ParseStatus("no-such-state"))
}

func writeBundle(t *testing.T, cfg string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(cfg), 0o600))
	return dir
}

func TestLoadBundle(t *testing.T) {
	dir := writeBundle(t, `{
		"ociVersion": "1.0.2",
		"root": {"path": "rootfs"},
		"process": {
			"terminal": true,
			"env": ["SCRUN_DEBUG=1", "SLURM_PARTITION=gpu", "PATH=/bin", "HOME=/root"]
		},
		"annotations": {"team": "hpc"}
	}`)
	b, err := LoadBundle(dir)
	require.NoError(t, err)
	assert.Equal(t, "1.0.2", b.OCIVersion)
	assert.Equal(t, filepath.Join(dir, "rootfs"), b.RootPath)
	assert.True(t, b.Terminal)
	assert.Equal(t, map[string]string{"team": "hpc"}, b.Annotations)
	assert.ElementsMatch(t, []string{"SCRUN_DEBUG=1", "SLURM_PARTITION=gpu"}, b.Env)
}

func TestLoadBundleAbsoluteRoot(t *testing.T) {
	dir := writeBundle(t, `{"ociVersion":"1.0.0","root":{"path":"/srv/rootfs"}}`)
	b, err := LoadBundle(dir)
	require.NoError(t, err)
	assert.Equal(t, "/srv/rootfs", b.RootPath)
}

func TestLoadBundleMissing(t *testing.T) {
	_, err := LoadBundle(t.TempDir())
	assert.Error(t, err)
}

// fakeAnchor serves the JSON request/response protocol on a unix
// socket, one exchange per connection.
type fakeAnchor struct {
	mu    sync.Mutex
	info  AnchorInfo
	calls []anchorRequest
}

func (fa *fakeAnchor) serve(t *testing.T, path string) {
	t.Helper()
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				var req anchorRequest
				if json.NewDecoder(c).Decode(&req) != nil {
					return
				}
				fa.mu.Lock()
				fa.calls = append(fa.calls, req)
				info := fa.info
				fa.mu.Unlock()
				_ = json.NewEncoder(c).Encode(&info)
			}(conn)
		}
	}()
}

func anchorSocket(t *testing.T) string {
	t.Helper()
	// short path, sun_path is size-limited
	dir, err := os.MkdirTemp("", "scrun")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "sock")
}

func TestAnchorRoundTrip(t *testing.T) {
	path := anchorSocket(t)
	fa := &fakeAnchor{info: AnchorInfo{Status: "running", PID: 4242, JobID: 77}}
	fa.serve(t, path)

	a := NewAnchor(path)
	info, err := a.Query(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "running", info.Status)
	assert.Equal(t, 4242, info.PID)

	_, err = a.Kill(context.Background(), 15)
	require.NoError(t, err)
	fa.mu.Lock()
	defer fa.mu.Unlock()
	require.Len(t, fa.calls, 2)
	assert.Equal(t, "state", fa.calls[0].Op)
	assert.Equal(t, "kill", fa.calls[1].Op)
	assert.Equal(t, 15, fa.calls[1].Signal)
}

func TestAnchorGone(t *testing.T) {
	a := NewAnchor(filepath.Join(t.TempDir(), "nope"))
	_, err := a.Query(context.Background())
	assert.ErrorIs(t, err, ErrAnchorGone)
}

func newFrontend(t *testing.T, handler http.Handler) *Frontend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	dir, err := os.MkdirTemp("", "scrunroot")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return &Frontend{
		Root: dir,
		API:  api.NewClient(&config.Config{BaseURL: srv.URL}),
	}
}

func TestCreateWritesRecordAndEnv(t *testing.T) {
	f := newFrontend(t, http.NotFoundHandler())
	dir := writeBundle(t, `{
		"ociVersion": "1.0.0",
		"root": {"path": "rootfs"},
		"process": {"env": ["SCRUN_TEST_MARKER=yes"]},
		"annotations": {"a": "b"}
	}`)
	t.Setenv("SCRUN_TEST_MARKER", "")

	require.NoError(t, f.Create(dir, "c-9f"))
	assert.Equal(t, "yes", os.Getenv("SCRUN_TEST_MARKER"))

	r, err := f.readRecord("c-9f")
	require.NoError(t, err)
	assert.Equal(t, "c-9f", r.ID)
	assert.Equal(t, "1.0.0", r.OCIVersion)

	info, err := os.Stat(filepath.Join(f.Root, "c-9f"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestStateEmission(t *testing.T) {
	f := newFrontend(t, http.NotFoundHandler())
	path := SocketPath(f.Root, "c-9f")
	fa := &fakeAnchor{info: AnchorInfo{
		Status:      "starting",
		PID:         4242,
		JobID:       77,
		OCIVersion:  "1.0.0",
		Bundle:      "/tmp/bundle",
		Annotations: map[string]string{"a": "b"},
	}}
	fa.serve(t, path)

	var buf bytes.Buffer
	require.NoError(t, f.State(context.Background(), "c-9f", &buf))

	var st State
	require.NoError(t, json.Unmarshal(buf.Bytes(), &st))
	assert.Equal(t, "creating", st.Status)
	assert.Equal(t, "c-9f", st.ID)
	assert.Equal(t, 4242, st.PID)
	assert.Equal(t, "/tmp/bundle", st.Bundle)
	assert.Equal(t, map[string]string{"a": "b"}, st.Annotations)
}

func TestKillSkipsTerminalContainer(t *testing.T) {
	f := newFrontend(t, http.NotFoundHandler())
	path := SocketPath(f.Root, "dead")
	fa := &fakeAnchor{info: AnchorInfo{Status: "stopped"}}
	fa.serve(t, path)

	require.NoError(t, f.Kill(context.Background(), "dead", 15))
	fa.mu.Lock()
	defer fa.mu.Unlock()
	require.Len(t, fa.calls, 1) // only the state query, no kill op
	assert.Equal(t, "state", fa.calls[0].Op)
}

func TestKillFallsBackToJobSignal(t *testing.T) {
	var signalled bool
	router := mux.NewRouter()
	router.HandleFunc("/v1/jobs/{id}/signal", func(w http.ResponseWriter, r *http.Request) {
		signalled = true
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodPost)
	f := newFrontend(t, router)
	require.NoError(t, f.writeRecord("c1", &record{ID: "c1", JobID: 88}))

	require.NoError(t, f.Kill(context.Background(), "c1", 9))
	assert.True(t, signalled)
}

func TestDeleteForceWithAnchorGone(t *testing.T) {
	f := newFrontend(t, http.NotFoundHandler())
	require.NoError(t, f.writeRecord("c2", &record{ID: "c2"}))

	require.NoError(t, f.Delete(context.Background(), "c2", 15, true))
	_, err := os.Stat(filepath.Join(f.Root, "c2"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteWithoutForceSignalsJob(t *testing.T) {
	var signalled bool
	router := mux.NewRouter()
	router.HandleFunc("/v1/jobs/{id}/signal", func(w http.ResponseWriter, r *http.Request) {
		signalled = true
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodPost)
	f := newFrontend(t, router)
	require.NoError(t, f.writeRecord("c3", &record{ID: "c3", JobID: 99}))

	require.NoError(t, f.Delete(context.Background(), "c3", 15, false))
	assert.True(t, signalled)
}

func TestRuntimeRootFromXDG(t *testing.T) {
	if os.Getuid() == 0 && inUserNamespace() {
		t.Skip("uid 0 inside a user namespace requires an explicit --root")
	}
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)
	got, err := RuntimeRoot()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}
