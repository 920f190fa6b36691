package parse

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// sigRTMax bounds the numeric signal range accepted by SignalNum.
const sigRTMax = 64

// signalNames is the set of names accepted for --signal and
// --kill-command. Deliberately narrower than the platform's full
// table; anything a user would send to a job is here.
var signalNames = map[string]unix.Signal{
	"HUP":  unix.SIGHUP,
	"INT":  unix.SIGINT,
	"QUIT": unix.SIGQUIT,
	"KILL": unix.SIGKILL,
	"TERM": unix.SIGTERM,
	"USR1": unix.SIGUSR1,
	"USR2": unix.SIGUSR2,
	"CONT": unix.SIGCONT,
	"ABRT": unix.SIGABRT,
	"ALRM": unix.SIGALRM,
	"URG":  unix.SIGURG,
	"STOP": unix.SIGSTOP,
	"TSTP": unix.SIGTSTP,
	"TTIN": unix.SIGTTIN,
	"TTOU": unix.SIGTTOU,
	"PIPE": unix.SIGPIPE,
	"CHLD": unix.SIGCHLD,
}

// SignalNum resolves a signal given as a decimal number in
// [1, SIGRTMAX) or as a case-insensitive name with an optional SIG
// prefix.
func SignalNum(s string) (unix.Signal, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n >= sigRTMax {
			return 0, errf("signal", s, "out of range")
		}
		return unix.Signal(n), nil
	}
	name := strings.ToUpper(s)
	name = strings.TrimPrefix(name, "SIG")
	if sig, ok := signalNames[name]; ok {
		return sig, nil
	}
	return 0, errf("signal", s, "unknown signal name")
}

// SignalSpec is the parsed form of --signal=[B:]sig[@secs].
type SignalSpec struct {
	Sig      unix.Signal
	Batch    bool // B: prefix
	LeadTime int  // seconds before the limit, @secs suffix
}

// SignalSpecValue parses the [B:]sig[@secs] form.
func SignalSpecValue(s string) (SignalSpec, error) {
	var spec SignalSpec
	rest := s
	if strings.HasPrefix(rest, "B:") || strings.HasPrefix(rest, "b:") {
		spec.Batch = true
		rest = rest[2:]
	}
	sigPart, leadPart, hasLead := strings.Cut(rest, "@")
	sig, err := SignalNum(sigPart)
	if err != nil {
		return SignalSpec{}, errf("signal specification", s, err.Error())
	}
	spec.Sig = sig
	if hasLead {
		secs, err := strconv.Atoi(leadPart)
		if err != nil || secs < 0 {
			return SignalSpec{}, errf("signal specification", s, "bad lead time")
		}
		spec.LeadTime = secs
	}
	return spec, nil
}
