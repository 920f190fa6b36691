package supervisor

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Terminal is the one place that touches controlling-terminal state.
// Lifecycle: Enter -> HandoffToChild -> Reclaim -> RestoreOnExit.
type Terminal struct {
	fd       int
	saved    *unix.Termios
	ttouStop chan os.Signal
}

// Interactive reports whether interactive job control applies:
// stdin is a terminal with a sane foreground group, and this process
// is its own process-group leader in the foreground.
func Interactive(noShell bool) bool {
	if noShell {
		return false
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return false
	}
	if _, err := unix.IoctlGetTermios(fd, unix.TCGETS); err != nil {
		return false
	}
	fg, err := unix.IoctlGetInt(fd, unix.TIOCGPGRP)
	if err != nil || fg < 0 {
		return false
	}
	pid := unix.Getpid()
	if pgrp := unix.Getpgrp(); pgrp != pid {
		return false
	}
	return fg == pid
}

// Enter saves the terminal attributes and makes this process the
// foreground group. SIGTSTP is ignored for the rest of our life (the
// child's shell installs its own); SIGTTIN/SIGTTOU are caught and
// discarded so foreground-group changes cannot stop us.
func Enter() (*Terminal, error) {
	fd := int(os.Stdin.Fd())
	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}
	t := &Terminal{fd: fd, saved: saved, ttouStop: make(chan os.Signal, 4)}
	signal.Ignore(unix.SIGTSTP)
	signal.Notify(t.ttouStop, unix.SIGTTIN, unix.SIGTTOU)
	if err := t.setForeground(unix.Getpid()); err != nil {
		return nil, err
	}
	return t, nil
}

// HandoffToChild gives the child the foreground group on grant.
func (t *Terminal) HandoffToChild(pid int) error {
	return t.setForeground(pid)
}

// Reclaim takes the foreground group back after the child exits.
func (t *Terminal) Reclaim() error {
	return t.setForeground(unix.Getpid())
}

// Foreground returns the terminal's current foreground process group.
func (t *Terminal) Foreground() (int, error) {
	return unix.IoctlGetInt(t.fd, unix.TIOCGPGRP)
}

// RestoreOnExit puts the saved attributes back; registered as the
// exit hook for interactive mode.
func (t *Terminal) RestoreOnExit() {
	_ = t.Reclaim()
	_ = unix.IoctlSetTermios(t.fd, unix.TCSETS, t.saved)
	signal.Stop(t.ttouStop)
}

func (t *Terminal) setForeground(pid int) error {
	return unix.IoctlSetPointerInt(t.fd, unix.TIOCSPGRP, pid)
}
