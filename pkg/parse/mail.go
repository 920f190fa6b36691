package parse

import (
	"strconv"
	"strings"
)

// Mail-type bits.
const (
	MailBegin uint16 = 1 << iota
	MailEnd
	MailFail
	MailRequeue
	MailTime100
	MailTime90
	MailTime80
	MailTime50
	MailStageOut
	MailArrayTasks
)

// MailAll is what the ALL token expands to. Time-limit warnings and
// array-task mail stay opt-in.
const MailAll = MailBegin | MailEnd | MailFail | MailRequeue | MailStageOut

// MailType parses a comma-separated mail-type list into a bitmask.
// NONE yields zero; unknown tokens are ignored.
func MailType(s string) uint16 {
	var mask uint16
	for _, tok := range strings.Split(s, ",") {
		switch strings.ToUpper(strings.TrimSpace(tok)) {
		case "NONE":
			// no bits
		case "BEGIN":
			mask |= MailBegin
		case "END":
			mask |= MailEnd
		case "FAIL":
			mask |= MailFail
		case "REQUEUE":
			mask |= MailRequeue
		case "ALL":
			mask |= MailAll
		case "STAGE_OUT":
			mask |= MailStageOut
		case "TIME_LIMIT":
			mask |= MailTime100
		case "TIME_LIMIT_90":
			mask |= MailTime90
		case "TIME_LIMIT_80":
			mask |= MailTime80
		case "TIME_LIMIT_50":
			mask |= MailTime50
		case "ARRAY_TASKS":
			mask |= MailArrayTasks
		}
	}
	return mask
}

// CompressType selects the file-broadcast compression codec.
type CompressType string

const (
	CompressNone CompressType = "none"
	CompressZlib CompressType = "zlib"
	CompressLZ4  CompressType = "lz4"
)

// DefaultCompression is used for an empty --compress value.
const DefaultCompression = CompressLZ4

// Compression resolves a compression name. The second return is
// false when the name was unrecognized and the caller should warn
// about the downgrade to none.
func Compression(s string) (CompressType, bool) {
	switch strings.ToLower(s) {
	case "":
		return DefaultCompression, true
	case "none":
		return CompressNone, true
	case "zlib":
		return CompressZlib, true
	case "lz4":
		return CompressLZ4, true
	}
	return CompressNone, false
}

// FormatTres prefixes every item of a user tres list, so that
// "a,b=2,c:3" with prefix "gres" becomes "gres:a,gres:b=2,gres:c:3".
func FormatTres(prefix, list string) string {
	if list == "" {
		return ""
	}
	items := strings.Split(list, ",")
	for i, item := range items {
		items[i] = prefix + ":" + item
	}
	return strings.Join(items, ",")
}

// FormatCPUsPerNode run-length encodes a per-node CPU count vector
// the way the controller reports it, e.g. [4 2 2 2 1] -> "4,2(x3),1".
func FormatCPUsPerNode(counts []uint16) string {
	var b strings.Builder
	for i := 0; i < len(counts); {
		j := i
		for j < len(counts) && counts[j] == counts[i] {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(counts[i])))
		if j-i > 1 {
			b.WriteString("(x" + strconv.Itoa(j-i) + ")")
		}
		i = j
	}
	return b.String()
}
