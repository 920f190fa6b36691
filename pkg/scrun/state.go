package scrun

import (
	"encoding/json"
	"io"
	"strings"
)

// Status is the anchor's internal container status. Order matters:
// anything at or past Stopped projects to the OCI "stopped" state.
type Status int

const (
	StatusInvalid Status = iota
	StatusStarting
	StatusCreating
	StatusCreated
	StatusRunning
	StatusStopping
	StatusStopped
	StatusUnknown
)

var statusNames = map[Status]string{
	StatusInvalid:  "invalid",
	StatusStarting: "starting",
	StatusCreating: "creating",
	StatusCreated:  "created",
	StatusRunning:  "running",
	StatusStopping: "stopping",
	StatusStopped:  "stopped",
	StatusUnknown:  "unknown",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// ParseStatus maps a status name back to its value; unrecognised names
// come back as StatusUnknown.
func ParseStatus(s string) Status {
	for st, n := range statusNames {
		if strings.EqualFold(s, n) {
			return st
		}
	}
	return StatusUnknown
}

// Terminal reports whether the container can no longer run.
func (s Status) Terminal() bool {
	return s >= StatusStopping || s == StatusInvalid
}

// OCIStatus projects the internal status onto the four states the OCI
// runtime spec defines.
func (s Status) OCIStatus() string {
	switch {
	case s == StatusStarting:
		return "creating"
	case s == StatusStopping || s >= StatusStopped:
		return "stopped"
	}
	return strings.ToLower(s.String())
}

// State is the JSON document the state verb prints.
type State struct {
	OCIVersion  string            `json:"ociVersion"`
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	PID         int               `json:"pid"`
	Bundle      string            `json:"bundle"`
	Annotations map[string]string `json:"annotations"`
}

// Write emits the state document with stable indentation.
func (s *State) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
