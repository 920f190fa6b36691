package options

import (
	"os/user"
	"strconv"

	"github.com/hpckit/slurmc/pkg/parse"
)

// lookupUID resolves a numeric uid or a user name.
func lookupUID(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= 0 {
		return n, nil
	}
	u, err := user.Lookup(s)
	if err != nil {
		return 0, &parse.Error{What: "user", Token: s, Msg: "no such user"}
	}
	n, err := strconv.ParseInt(u.Uid, 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// LookupUID resolves a numeric uid or a user name for callers outside
// the descriptor overlay path.
func LookupUID(s string) (uint32, error) {
	n, err := lookupUID(s)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// lookupGID resolves a numeric gid or a group name.
func lookupGID(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= 0 {
		return n, nil
	}
	g, err := user.LookupGroup(s)
	if err != nil {
		return 0, &parse.Error{What: "group", Token: s, Msg: "no such group"}
	}
	n, err := strconv.ParseInt(g.Gid, 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}
