// Package supervisor runs the user command under a granted
// allocation: it forks the command into its own process group, hands
// the terminal over in interactive mode, forwards signals, and reaps
// the child into a shell-style exit code.
package supervisor

import (
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/hpckit/slurmc/pkg/log"
)

// forwarded are the signals relayed to the child's process group while
// it runs. SIGHUP additionally marks the session lost.
var forwarded = []os.Signal{
	unix.SIGHUP, unix.SIGINT, unix.SIGQUIT, unix.SIGTERM,
	unix.SIGUSR1, unix.SIGUSR2,
}

// Supervisor runs one user command for the lifetime of an allocation.
type Supervisor struct {
	Command []string
	Env     []string
	WorkDir string

	// KillSignal is delivered to the child's group on revocation.
	KillSignal unix.Signal

	term *Terminal

	mu      sync.Mutex
	pid     int
	hupSeen bool
	sigCh   chan os.Signal
	sigDone chan struct{}
}

// New prepares a supervisor. term may be nil for non-interactive runs.
func New(command, env []string, workDir string, killSig unix.Signal, term *Terminal) *Supervisor {
	return &Supervisor{
		Command:    command,
		Env:        env,
		WorkDir:    workDir,
		KillSignal: killSig,
		term:       term,
	}
}

// Pid returns the child's pid, or zero before Start.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// HupSeen reports whether the controlling session went away while the
// child ran.
func (s *Supervisor) HupSeen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hupSeen
}

// Start forks and execs the command in a fresh process group and, in
// interactive mode, makes that group the terminal's foreground group.
func (s *Supervisor) Start() error {
	path, err := exec.LookPath(s.Command[0])
	if err != nil {
		return err
	}

	cmd := exec.Command(path, s.Command[1:]...)
	cmd.Args = s.Command
	cmd.Env = s.Env
	cmd.Dir = s.WorkDir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return err
	}

	s.mu.Lock()
	s.pid = cmd.Process.Pid
	s.mu.Unlock()

	if s.term != nil {
		if err := s.term.HandoffToChild(cmd.Process.Pid); err != nil {
			log.Logger.Warn().Err(err).Msg("terminal handoff failed")
		}
	}

	s.sigCh = make(chan os.Signal, 8)
	s.sigDone = make(chan struct{})
	signal.Notify(s.sigCh, forwarded...)
	go s.forward()
	return nil
}

func (s *Supervisor) forward() {
	defer close(s.sigDone)
	for sig := range s.sigCh {
		if sig == unix.SIGHUP {
			s.mu.Lock()
			s.hupSeen = true
			s.mu.Unlock()
		}
		pid := s.Pid()
		if pid > 0 {
			_ = unix.Kill(-pid, sig.(unix.Signal))
		}
	}
}

// Wait reaps the child, treating a stop the same as termination: a
// stopped child has no terminal to resume on, so its group is killed.
// Returns the shell-style exit code.
func (s *Supervisor) Wait() int {
	pid := s.Pid()
	var ws unix.WaitStatus
	stopped := false
	for {
		_, err := unix.Wait4(pid, &ws, unix.WUNTRACED, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			log.Logger.Error().Err(err).Int("pid", pid).Msg("wait failed")
			break
		}
		if ws.Stopped() {
			stopped = true
			_ = unix.Kill(-pid, unix.SIGKILL)
			continue
		}
		break
	}

	signal.Stop(s.sigCh)
	close(s.sigCh)
	<-s.sigDone

	if s.term != nil {
		if err := s.term.Reclaim(); err != nil {
			log.Logger.Debug().Err(err).Msg("terminal reclaim failed")
		}
	}
	if stopped {
		// the group was killed because the child stopped; the final
		// SIGKILL status must not count as a clean exit
		return 1
	}
	return ExitCode(ws)
}

// Kill tears the child down on revocation. A foreground group other
// than the child's own gets SIGHUP first so interactive shells notice
// the session ending, then the child group is continued and given the
// configured kill signal.
func (s *Supervisor) Kill() {
	pid := s.Pid()
	if pid <= 0 {
		return
	}
	if s.term != nil {
		if fg, err := s.term.Foreground(); err == nil && fg > 0 && fg != pid {
			_ = unix.Kill(-fg, unix.SIGHUP)
		}
	}
	_ = unix.Kill(-pid, unix.SIGCONT)
	_ = unix.Kill(-pid, s.KillSignal)
}

// ExitCode maps a wait status to the exit code reported to the shell.
// Deliberate interruptions (hangup, interrupt, quit, kill) count as a
// clean exit; any other fatal signal is a failure.
func ExitCode(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		switch ws.Signal() {
		case unix.SIGHUP, unix.SIGINT, unix.SIGQUIT, unix.SIGKILL:
			return 0
		}
		return 1
	case ws.Stopped():
		return 1
	}
	return 1
}
