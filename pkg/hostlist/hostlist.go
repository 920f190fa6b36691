// Package hostlist expands compact host expressions such as
// "tux[1-3,5]" into explicit name lists. The same grammar backs
// job-array identifiers like "42_[1-3]".
package hostlist

import (
	"fmt"
	"strconv"
	"strings"
)

// Expand expands a comma-separated list of host expressions. Each
// expression may contain one bracket group of comma-separated numbers
// or ranges; numeric widths are preserved, so "n[01-03]" yields
// n01, n02, n03.
func Expand(list string) ([]string, error) {
	var out []string
	for _, expr := range splitOutsideBrackets(list) {
		if expr == "" {
			continue
		}
		names, err := expandOne(expr)
		if err != nil {
			return nil, err
		}
		out = append(out, names...)
	}
	return out, nil
}

// splitOutsideBrackets splits on commas that are not inside a bracket
// group.
func splitOutsideBrackets(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func expandOne(expr string) ([]string, error) {
	open := strings.IndexByte(expr, '[')
	if open < 0 {
		if strings.IndexByte(expr, ']') >= 0 {
			return nil, fmt.Errorf("unbalanced brackets in %q", expr)
		}
		return []string{expr}, nil
	}
	close := strings.IndexByte(expr[open:], ']')
	if close < 0 {
		return nil, fmt.Errorf("unbalanced brackets in %q", expr)
	}
	close += open
	prefix, body, suffix := expr[:open], expr[open+1:close], expr[close+1:]
	if strings.ContainsAny(suffix, "[]") {
		return nil, fmt.Errorf("multiple bracket groups in %q", expr)
	}
	var out []string
	for _, piece := range strings.Split(body, ",") {
		lo, hi, isRange := strings.Cut(piece, "-")
		a, err := strconv.ParseUint(lo, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad range %q in %q", piece, expr)
		}
		b := a
		width := len(lo)
		if isRange {
			b, err = strconv.ParseUint(hi, 10, 64)
			if err != nil || b < a {
				return nil, fmt.Errorf("bad range %q in %q", piece, expr)
			}
		}
		for n := a; n <= b; n++ {
			out = append(out, fmt.Sprintf("%s%0*d%s", prefix, width, n, suffix))
		}
	}
	return out, nil
}

// Unique returns the distinct names of list in first-seen order.
func Unique(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	var out []string
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
