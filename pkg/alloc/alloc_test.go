package alloc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpckit/slurmc/pkg/api"
	"github.com/hpckit/slurmc/pkg/config"
)

// fakeController is a minimal controller REST endpoint.
type fakeController struct {
	mu            sync.Mutex
	submitFails   int // respond EAGAIN this many times first
	submitErrno   string
	completeCalls []uint32
	readySeq      []api.ReadyResponse
	readyIdx      int
}

func (f *fakeController) handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/v1/allocations", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.submitErrno != "" {
			w.WriteHeader(http.StatusConflict)
			fmt.Fprintf(w, `{"error":"denied","errno":%q}`, f.submitErrno)
			return
		}
		if f.submitFails > 0 {
			f.submitFails--
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"error":"busy","errno":%q}`, api.ErrnoAgain)
			return
		}
		var req struct {
			Jobs []*api.JobDesc `json:"jobs"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		var resps []*api.AllocResponse
		for i := range req.Jobs {
			resps = append(resps, &api.AllocResponse{
				JobID:    uint32(1000 + i),
				NodeList: fmt.Sprintf("tux%d", i),
				NumNodes: 1,
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"allocations": resps})
	}).Methods(http.MethodPost)
	router.HandleFunc("/v1/jobs/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.completeCalls = append(f.completeCalls, 0)
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodPost)
	router.HandleFunc("/v1/jobs/{id}/ready", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		resp := f.readySeq[f.readyIdx]
		if f.readyIdx < len(f.readySeq)-1 {
			f.readyIdx++
		}
		_ = json.NewEncoder(w).Encode(resp)
	}).Methods(http.MethodGet)
	return router
}

func (f *fakeController) completes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completeCalls)
}

func newTestClient(t *testing.T, f *fakeController) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	c, err := New(api.NewClient(&config.Config{BaseURL: srv.URL}))
	require.NoError(t, err)
	c.sleep = func(time.Duration) {}
	t.Cleanup(c.Close)
	return c
}

func TestSubmitGranted(t *testing.T) {
	f := &fakeController{}
	c := newTestClient(t, f)

	descs := []*api.JobDesc{{Name: "demo"}}
	resps, err := c.Submit(context.Background(), descs, nil)
	require.NoError(t, err)
	require.Len(t, resps, 1)
	assert.Equal(t, uint32(1000), resps[0].JobID)
	assert.Equal(t, Granted, c.State())
	assert.Equal(t, uint32(1000), c.JobID())
	assert.True(t, c.WaitGranted())

	// back-channel registration propagated into the descriptor
	assert.NotZero(t, descs[0].AllocPort)
	assert.NotEmpty(t, descs[0].CallbackToken)
}

func TestSubmitHetjobSharesBackChannel(t *testing.T) {
	f := &fakeController{}
	c := newTestClient(t, f)

	descs := []*api.JobDesc{{}, {HetJobOffset: 1}}
	resps, err := c.Submit(context.Background(), descs, nil)
	require.NoError(t, err)
	require.Len(t, resps, 2)
	assert.Equal(t, resps[0].JobID+1, resps[1].JobID)
	assert.Equal(t, descs[0].AllocPort, descs[1].AllocPort)
	assert.Equal(t, descs[0].CallbackToken, descs[1].CallbackToken)
}

func TestSubmitRetriesBusy(t *testing.T) {
	f := &fakeController{submitFails: 3}
	c := newTestClient(t, f)

	_, err := c.Submit(context.Background(), []*api.JobDesc{{}}, nil)
	require.NoError(t, err)
	assert.Equal(t, Granted, c.State())
}

func TestSubmitImmediateDenied(t *testing.T) {
	f := &fakeController{submitErrno: api.ErrnoImmediate}
	c := newTestClient(t, f)

	_, err := c.Submit(context.Background(), []*api.JobDesc{{Immediate: 5}}, nil)
	var se *api.SubmitError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Immediate())
	assert.Equal(t, NotGranted, c.State())
}

func TestCompleteExactlyOnce(t *testing.T) {
	f := &fakeController{}
	c := newTestClient(t, f)

	_, err := c.Submit(context.Background(), []*api.JobDesc{{}}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Complete(1000, 0))
	require.NoError(t, c.Complete(1000, 0)) // idempotent
	assert.Equal(t, 1, f.completes())
}

func TestCompleteSuppressedAfterRevocation(t *testing.T) {
	f := &fakeController{}
	c := newTestClient(t, f)

	_, err := c.Submit(context.Background(), []*api.JobDesc{{}}, nil)
	require.NoError(t, err)

	c.dispatch(&api.CallbackMsg{Type: api.CallbackComplete, JobID: 1000})
	assert.Equal(t, Revoked, c.State())
	require.NoError(t, c.Complete(1000, 0))
	assert.Zero(t, f.completes())
}

func TestRevocationBeforeGrant(t *testing.T) {
	f := &fakeController{}
	c := newTestClient(t, f)

	c.dispatch(&api.CallbackMsg{Type: api.CallbackComplete, JobID: 1000})
	_, err := c.Submit(context.Background(), []*api.JobDesc{{}}, nil)
	assert.ErrorIs(t, err, ErrRevoked)
	assert.False(t, c.WaitGranted())
}

func TestPendingCallback(t *testing.T) {
	f := &fakeController{}
	c := newTestClient(t, f)

	var got atomic.Uint32
	c.mu.Lock()
	c.pendingCB = func(id uint32) { got.Store(id) }
	c.mu.Unlock()

	c.dispatch(&api.CallbackMsg{Type: api.CallbackPending, JobID: 77})
	assert.Equal(t, uint32(77), got.Load())
	assert.Equal(t, uint32(77), c.JobID())
}

func TestOnRevokeHook(t *testing.T) {
	f := &fakeController{}
	c := newTestClient(t, f)

	var fired atomic.Bool
	c.OnRevoke(func(timedOut bool) {
		fired.Store(true)
		assert.False(t, timedOut)
	})
	c.dispatch(&api.CallbackMsg{Type: api.CallbackComplete, JobID: 1})
	assert.True(t, fired.Load())
}

func TestOnRevokeTimedOut(t *testing.T) {
	f := &fakeController{}
	c := newTestClient(t, f)

	var timedOut atomic.Bool
	c.OnRevoke(func(to bool) { timedOut.Store(to) })
	c.dispatch(&api.CallbackMsg{Type: api.CallbackTimeout, JobID: 1, Timeout: time.Now().Add(-time.Minute).Unix()})
	c.dispatch(&api.CallbackMsg{Type: api.CallbackComplete, JobID: 1})
	assert.True(t, timedOut.Load())
}

func TestListenerHTTP(t *testing.T) {
	f := &fakeController{}
	c := newTestClient(t, f)

	url := fmt.Sprintf("http://127.0.0.1:%d/v1/callbacks/%s", c.listener.port, c.listener.token)
	body, _ := json.Marshal(api.CallbackMsg{Type: api.CallbackPending, JobID: 9})
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return c.JobID() == 9 }, time.Second, 10*time.Millisecond)

	bad := fmt.Sprintf("http://127.0.0.1:%d/v1/callbacks/wrong", c.listener.port)
	resp, err = http.Post(bad, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWaitReady(t *testing.T) {
	f := &fakeController{readySeq: []api.ReadyResponse{
		{State: "pending", PrologRunning: true, ReadyNodes: 0, TotalNodes: 2},
		{State: "running", PrologRunning: false, ReadyNodes: 1, TotalNodes: 2},
		{State: "running", PrologRunning: false, ReadyNodes: 2, TotalNodes: 2},
	}}
	c := newTestClient(t, f)
	c.mu.Lock()
	c.state = Granted
	c.mu.Unlock()

	assert.True(t, c.WaitReady(context.Background(), 1000, true, 30*time.Second))
}

func TestWaitReadyPartialNodesAccepted(t *testing.T) {
	f := &fakeController{readySeq: []api.ReadyResponse{
		{State: "running", PrologRunning: false, ReadyNodes: 1, TotalNodes: 4},
	}}
	c := newTestClient(t, f)
	assert.True(t, c.WaitReady(context.Background(), 1000, false, 30*time.Second))
}

func TestWaitReadyKilled(t *testing.T) {
	f := &fakeController{readySeq: []api.ReadyResponse{{State: "killed"}}}
	c := newTestClient(t, f)
	assert.False(t, c.WaitReady(context.Background(), 1000, true, 30*time.Second))
}

func TestWaitReadyBound(t *testing.T) {
	f := &fakeController{readySeq: []api.ReadyResponse{
		{State: "pending", PrologRunning: true, TotalNodes: 1},
	}}
	c := newTestClient(t, f)
	start := time.Now()
	ok := c.WaitReady(context.Background(), 1000, true, 10*time.Millisecond)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestSubmitFatalError(t *testing.T) {
	f := &fakeController{submitErrno: api.ErrnoConfig}
	c := newTestClient(t, f)
	_, err := c.Submit(context.Background(), []*api.JobDesc{{}}, nil)
	var se *api.SubmitError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Retryable())
}
