package parse

import (
	"strconv"
	"strings"
)

// DistLevel is one level of a task distribution specification.
type DistLevel string

const (
	DistUnset     DistLevel = ""
	DistBlock     DistLevel = "block"
	DistCyclic    DistLevel = "cyclic"
	DistFCyclic   DistLevel = "fcyclic"
	DistArbitrary DistLevel = "arbitrary"
	DistPlane     DistLevel = "plane"
)

// Distribution is the parsed form of -m/--distribution. Node, Socket
// and Core hold the per-level layouts after wildcard resolution.
type Distribution struct {
	Node   DistLevel
	Socket DistLevel
	Core   DistLevel

	// PlaneSize is set when Node is DistPlane and a =size was given;
	// otherwise zero, and the SALLOC_DIST_PLANESIZE environment value
	// applies.
	PlaneSize int32

	Pack   bool
	NoPack bool
}

func distToken(tok string, allowNested bool) (DistLevel, int32, error) {
	name, size, hasSize := strings.Cut(tok, "=")
	var lvl DistLevel
	switch strings.ToLower(name) {
	case "block":
		lvl = DistBlock
	case "cyclic":
		lvl = DistCyclic
	case "fcyclic":
		lvl = DistFCyclic
	case "arbitrary", "hostfile":
		lvl = DistArbitrary
	case "plane":
		lvl = DistPlane
	case "*":
		lvl = DistUnset
	default:
		return "", 0, errf("distribution", tok, "unknown layout")
	}
	if hasSize {
		if lvl != DistPlane {
			return "", 0, errf("distribution", tok, "size only valid for plane")
		}
		n, err := strconv.ParseInt(size, 10, 32)
		if err != nil || n <= 0 {
			return "", 0, errf("distribution", tok, "bad plane size")
		}
		return lvl, int32(n), nil
	}
	_ = allowNested
	return lvl, 0, nil
}

// DistributionValue parses up to three colon-separated levels
// (node, socket, core), each block|cyclic|fcyclic|arbitrary|plane|*,
// plus comma-separated pack/nopack modifiers. A '*' inherits the
// level default: block for nodes, cyclic for sockets, and the
// resolved socket layout for cores.
func DistributionValue(s string) (Distribution, error) {
	var d Distribution
	for i, tok := range strings.Split(s, ",") {
		if i == 0 {
			levels := strings.Split(tok, ":")
			if len(levels) > 3 {
				return d, errf("distribution", s, "more than three levels")
			}
			for li, lt := range levels {
				lvl, size, err := distToken(lt, li == 0)
				if err != nil {
					return d, err
				}
				switch li {
				case 0:
					d.Node = lvl
					d.PlaneSize = size
				case 1:
					if lvl == DistPlane || lvl == DistArbitrary {
						return d, errf("distribution", s, "layout not valid below node level")
					}
					d.Socket = lvl
				case 2:
					if lvl == DistPlane || lvl == DistArbitrary {
						return d, errf("distribution", s, "layout not valid below node level")
					}
					d.Core = lvl
				}
			}
			continue
		}
		switch strings.ToLower(tok) {
		case "pack":
			d.Pack = true
		case "nopack":
			d.NoPack = true
		default:
			return d, errf("distribution", s, "unknown modifier "+strconv.Quote(tok))
		}
	}
	// Wildcard resolution.
	if d.Node == DistUnset {
		d.Node = DistBlock
	}
	if d.Socket == DistUnset {
		d.Socket = DistCyclic
	}
	if d.Core == DistUnset {
		d.Core = d.Socket
	}
	return d, nil
}

// Geometry parses dims unsigned coordinates separated by ':' or 'x'.
// Every coordinate must be positive.
func Geometry(s string, dims int) ([]uint16, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == 'x' || r == 'X'
	})
	if len(fields) != dims {
		return nil, errf("geometry", s, "expected "+strconv.Itoa(dims)+" dimensions")
	}
	out := make([]uint16, dims)
	for i, f := range fields {
		n, err := strconv.ParseUint(f, 10, 16)
		if err != nil || n == 0 {
			return nil, errf("geometry", s, "bad dimension "+strconv.Quote(f))
		}
		out[i] = uint16(n)
	}
	return out, nil
}

// Range is a min-max pair from a resource tuple field. Set is false
// for the wildcard forms '*' and empty.
type Range struct {
	Min int32
	Max int32
	Set bool
}

// NodeResTuple is the parsed form of -B/--extra-node-info:
// sockets[:cores[:threads]] per node.
type NodeResTuple struct {
	Sockets Range
	Cores   Range
	Threads Range
}

func rangeField(what, f string) (Range, error) {
	if f == "" || f == "*" {
		return Range{}, nil
	}
	lo, hi, hasMax := strings.Cut(f, "-")
	n, err := parseScaled(what, lo)
	if err != nil {
		return Range{}, err
	}
	if n < 1 {
		return Range{}, errf(what, f, "must be at least 1")
	}
	r := Range{Min: int32(n), Max: int32(n), Set: true}
	if hasMax {
		m, err := parseScaled(what, hi)
		if err != nil {
			return Range{}, err
		}
		if int32(m) < r.Min {
			return Range{}, errf(what, f, "max below min")
		}
		r.Max = int32(m)
	}
	return r, nil
}

// ResourceTuple parses S[:C[:T]] where each field is '*', N or
// min-max (k/m suffixes allowed).
func ResourceTuple(s string) (NodeResTuple, error) {
	var t NodeResTuple
	fields := strings.Split(s, ":")
	if len(fields) > 3 {
		return t, errf("resource tuple", s, "more than three fields")
	}
	var err error
	if t.Sockets, err = rangeField("socket count", fields[0]); err != nil {
		return t, err
	}
	if len(fields) > 1 {
		if t.Cores, err = rangeField("core count", fields[1]); err != nil {
			return t, err
		}
	}
	if len(fields) > 2 {
		if t.Threads, err = rangeField("thread count", fields[2]); err != nil {
			return t, err
		}
	}
	return t, nil
}
