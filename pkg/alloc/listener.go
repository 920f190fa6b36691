package alloc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/hpckit/slurmc/pkg/api"
	"github.com/hpckit/slurmc/pkg/log"
)

// listener is the back-channel the controller posts allocation
// callbacks to. It is started before submit so the registered port is
// live by the time the controller sees the request, and serves every
// component of a hetjob.
type listener struct {
	token    string
	host     string
	port     uint16
	server   *http.Server
	netl     net.Listener
	dispatch func(*api.CallbackMsg)
}

// newListener binds an ephemeral port and starts serving callbacks.
func newListener(dispatch func(*api.CallbackMsg)) (*listener, error) {
	netl, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, err
	}
	l := &listener{
		token:    uuid.NewString(),
		dispatch: dispatch,
		netl:     netl,
	}
	l.host, _ = os.Hostname() // controller falls back to the peer address
	_, portStr, _ := net.SplitHostPort(netl.Addr().String())
	p, _ := strconv.Atoi(portStr)
	l.port = uint16(p)

	r := mux.NewRouter()
	r.HandleFunc("/v1/callbacks/{token}", l.handle).Methods(http.MethodPost)
	l.server = &http.Server{Handler: r}
	go func() {
		if err := l.server.Serve(netl); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("callback listener failed")
		}
	}()
	return l, nil
}

func (l *listener) handle(w http.ResponseWriter, r *http.Request) {
	if mux.Vars(r)["token"] != l.token {
		http.Error(w, "unknown callback token", http.StatusForbidden)
		return
	}
	var msg api.CallbackMsg
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "bad callback body", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	l.dispatch(&msg)
}

func (l *listener) close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = l.server.Shutdown(ctx)
}
