package parse

import (
	"fmt"
	"strconv"
	"strings"
)

// Sentinels shared across the option model and the wire types. These
// mirror the controller's conventions: NoVal means "not set", Infinite
// means "no limit".
const (
	NoVal      uint32 = 0xfffffffe
	Infinite   uint32 = 0xffffffff
	NoVal64    uint64 = 0xfffffffffffffffe
	Infinite64 uint64 = 0xffffffffffffffff

	// MemPerCPUFlag marks a pn-min-memory value as per-CPU rather
	// than per-node.
	MemPerCPUFlag uint64 = 0x8000000000000000
)

// Time parser results outside the normal minute range.
const (
	TimeInfinite int = -1 // the INFINITE keyword
	TimeUnset    int = -2 // empty string
)

// Error is returned by every parser in this package. Token is the
// offending input, verbatim.
type Error struct {
	What  string
	Token string
	Msg   string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("invalid %s %q", e.What, e.Token)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.What, e.Token, e.Msg)
}

func errf(what, token, msg string) *Error {
	return &Error{What: what, Token: token, Msg: msg}
}

// parseScaled parses a decimal integer with an optional k/K (1024) or
// m/M (1024*1024) suffix. Used for node counts and task counts.
func parseScaled(what, s string) (int64, error) {
	if s == "" {
		return 0, errf(what, s, "empty value")
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1024
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, errf(what, s, "not a decimal integer")
	}
	return n * mult, nil
}

// NodeCount parses "N" or "min-max" with optional k/m suffixes on
// either side. Whitespace anywhere in the value is rejected. Values
// containing '/' are hostfile paths and must not reach this function.
func NodeCount(s string) (min, max int32, err error) {
	if strings.ContainsAny(s, " \t") {
		return 0, 0, errf("node count", s, "whitespace not allowed")
	}
	lo, hi, ok := strings.Cut(s, "-")
	n, err := parseScaled("node count", lo)
	if err != nil {
		return 0, 0, err
	}
	if n <= 0 {
		return 0, 0, errf("node count", s, "must be positive")
	}
	min = int32(n)
	if !ok {
		return min, min, nil
	}
	m, err := parseScaled("node count", hi)
	if err != nil {
		return 0, 0, err
	}
	max = int32(m)
	if max < min {
		return 0, 0, errf("node count", s, "max below min")
	}
	return min, max, nil
}

// MemoryMB parses a memory size and returns megabytes. Suffixes K, M,
// G and T scale by successive factors of 1024; an unsuffixed value is
// megabytes unless defaultGB is set (the default_gbytes config
// toggle), in which case it is gigabytes. Kilobyte values round up to
// the next full megabyte.
func MemoryMB(s string, defaultGB bool) (int64, error) {
	if s == "" {
		return 0, errf("memory size", s, "empty value")
	}
	shift := uint(0) // power of 1024 relative to MB
	kilo := false
	switch s[len(s)-1] {
	case 'k', 'K':
		kilo = true
		s = s[:len(s)-1]
	case 'm', 'M':
		s = s[:len(s)-1]
	case 'g', 'G':
		shift = 1
		s = s[:len(s)-1]
	case 't', 'T':
		shift = 2
		s = s[:len(s)-1]
	default:
		if defaultGB {
			shift = 1
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, errf("memory size", s, "not a decimal integer")
	}
	if kilo {
		return (n + 1023) / 1024, nil
	}
	for ; shift > 0; shift-- {
		n *= 1024
	}
	return n, nil
}

// TimeMinutes parses the time formats minutes, minutes:seconds,
// hours:minutes:seconds, days-hours, days-hours:minutes and
// days-hours:minutes:seconds, plus the literal INFINITE and the empty
// string. Any nonzero seconds value rounds up to the next minute.
func TimeMinutes(s string) (int, error) {
	if s == "" {
		return TimeUnset, nil
	}
	if strings.EqualFold(s, "INFINITE") || strings.EqualFold(s, "UNLIMITED") {
		return TimeInfinite, nil
	}
	var days, hours, mins, secs int64
	dpart, rest, hasDays := strings.Cut(s, "-")
	if hasDays {
		var err error
		days, err = strconv.ParseInt(dpart, 10, 32)
		if err != nil || days < 0 {
			return 0, errf("time", s, "bad day count")
		}
	} else {
		rest = s
	}
	fields := strings.Split(rest, ":")
	parse := func(f string) (int64, error) {
		v, err := strconv.ParseInt(f, 10, 32)
		if err != nil || v < 0 {
			return 0, errf("time", s, "bad field "+strconv.Quote(f))
		}
		return v, nil
	}
	var err error
	switch len(fields) {
	case 1:
		if hasDays {
			hours, err = parse(fields[0])
		} else {
			mins, err = parse(fields[0])
		}
	case 2:
		if hasDays {
			hours, err = parse(fields[0])
			if err == nil {
				mins, err = parse(fields[1])
			}
		} else {
			mins, err = parse(fields[0])
			if err == nil {
				secs, err = parse(fields[1])
			}
		}
	case 3:
		hours, err = parse(fields[0])
		if err == nil {
			mins, err = parse(fields[1])
		}
		if err == nil {
			secs, err = parse(fields[2])
		}
	default:
		return 0, errf("time", s, "too many fields")
	}
	if err != nil {
		return 0, err
	}
	total := days*24*60 + hours*60 + mins
	if secs > 0 {
		total++
	}
	return int(total), nil
}

// Bool parses the boolean forms accepted in environment variables:
// an empty value, "yes" and any nonzero number are true; "no" and
// zero are false.
func Bool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "yes", "true":
		return true, nil
	case "no", "false":
		return false, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return false, errf("boolean", s, "")
	}
	return n != 0, nil
}

// Uint32 parses a plain decimal integer into the uint32 range used by
// most wire fields.
func Uint32(what, s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errf(what, s, "not a decimal integer")
	}
	return uint32(n), nil
}
