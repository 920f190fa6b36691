// Package jobupdate implements the job-update client: it turns
// key=value tokens into controller update requests, resolving
// abbreviated keys, job names, and array expressions along the way.
package jobupdate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hpckit/slurmc/pkg/api"
	"github.com/hpckit/slurmc/pkg/hostlist"
	"github.com/hpckit/slurmc/pkg/log"
	"github.com/hpckit/slurmc/pkg/parse"
)

// ErrHelp reports that the invocation only asked for help text.
var ErrHelp = errors.New("help requested")

type opKind int

const (
	opSet opKind = iota // key=value
	opAdd               // key+=value
	opSub               // key-=value
)

type token struct {
	key   string
	op    opKind
	value string
}

// Updater applies one scontrol-style update invocation.
type Updater struct {
	API *api.Client
	UID *uint32 // effective-uid override for name resolution
	Out io.Writer
}

// keyEntry binds a canonical key to its minimum unambiguous prefix and
// its setter. Setters that need controller state (relative time
// limits) are handled separately.
type keyEntry struct {
	name      string
	minPrefix int
	apply     func(u *api.JobUpdate, op opKind, value string) error
}

func setOnly(fn func(u *api.JobUpdate, value string) error) func(*api.JobUpdate, opKind, string) error {
	return func(u *api.JobUpdate, op opKind, value string) error {
		if op != opSet {
			return errors.New("+= and -= are not supported for this field")
		}
		return fn(u, value)
	}
}

func strField(dst func(u *api.JobUpdate) **string) func(*api.JobUpdate, opKind, string) error {
	return setOnly(func(u *api.JobUpdate, value string) error {
		v := value
		*dst(u) = &v
		return nil
	})
}

func u32Field(what string, dst func(u *api.JobUpdate) **uint32) func(*api.JobUpdate, opKind, string) error {
	return setOnly(func(u *api.JobUpdate, value string) error {
		n, err := parse.Uint32(what, value)
		if err != nil {
			return err
		}
		*dst(u) = &n
		return nil
	})
}

var keyTable = []keyEntry{
	{"jobid", 4, nil},   // target selector, handled by Run
	{"name", 2, nil},    // selector when no jobid, setter otherwise
	{"jobname", 4, nil}, // alias of name
	{"timelimit", 5, nil},
	{"timemin", 5, setOnly(func(u *api.JobUpdate, v string) error {
		m, err := parse.TimeMinutes(v)
		if err != nil {
			return err
		}
		t := timeToWire(m)
		u.TimeMin = &t
		return nil
	})},
	{"priority", 2, u32Field("priority", func(u *api.JobUpdate) **uint32 { return &u.Priority })},
	{"nice", 2, setOnly(func(u *api.JobUpdate, v string) error {
		var n int32
		if v == "" {
			n = 100
		} else if _, err := fmt.Sscan(v, &n); err != nil {
			return &parse.Error{What: "nice", Token: v}
		}
		u.Nice = &n
		return nil
	})},
	{"numtasks", 4, u32Field("task count", func(u *api.JobUpdate) **uint32 { return &u.NumTasks })},
	{"numnodes", 4, setOnly(applyNumNodes)},
	{"nodecnt", 5, setOnly(applyNumNodes)},
	{"minmemorynode", 10, setOnly(func(u *api.JobUpdate, v string) error {
		mb, err := parse.MemoryMB(v, false)
		if err != nil {
			return err
		}
		m := uint64(mb)
		u.PnMinMemory = &m
		return nil
	})},
	{"minmemorycpu", 10, setOnly(func(u *api.JobUpdate, v string) error {
		mb, err := parse.MemoryMB(v, false)
		if err != nil {
			return err
		}
		m := uint64(mb) | parse.MemPerCPUFlag
		u.PnMinMemory = &m
		return nil
	})},
	{"mincpusnode", 4, setOnly(func(u *api.JobUpdate, v string) error {
		n, err := parse.Uint32("cpu count", v)
		if err != nil {
			return err
		}
		c := uint16(n)
		u.PnMinCPUs = &c
		return nil
	})},
	{"tmpdisk", 3, setOnly(func(u *api.JobUpdate, v string) error {
		mb, err := parse.MemoryMB(v, false)
		if err != nil {
			return err
		}
		u.TmpDiskMB = &mb
		return nil
	})},
	{"partition", 2, strField(func(u *api.JobUpdate) **string { return &u.Partition })},
	{"qos", 1, strField(func(u *api.JobUpdate) **string { return &u.QoS })},
	{"account", 2, strField(func(u *api.JobUpdate) **string { return &u.Account })},
	{"reservationname", 3, strField(func(u *api.JobUpdate) **string { return &u.Reservation })},
	{"wckey", 2, strField(func(u *api.JobUpdate) **string { return &u.WCKey })},
	{"dependency", 3, strField(func(u *api.JobUpdate) **string { return &u.Dependency })},
	{"comment", 3, strField(func(u *api.JobUpdate) **string { return &u.Comment })},
	{"admincomment", 6, func(u *api.JobUpdate, op opKind, v string) error {
		if op == opSub {
			return errors.New("AdminComment can only be set or appended to")
		}
		if op == opAdd && u.AdminComment != nil {
			v = *u.AdminComment + v
		}
		u.AdminComment = &v
		return nil
	}},
	{"features", 3, strField(func(u *api.JobUpdate) **string { return &u.Features })},
	{"gres", 4, func(u *api.JobUpdate, op opKind, v string) error {
		if op != opSet {
			return errors.New("+= and -= are not supported for this field")
		}
		if v == "help" || v == "list" {
			return ErrHelp
		}
		u.Gres = &v
		return nil
	}},
	{"licenses", 3, strField(func(u *api.JobUpdate) **string { return &u.Licenses })},
	{"reqnodelist", 4, strField(func(u *api.JobUpdate) **string { return &u.ReqNodes })},
	{"excnodelist", 3, strField(func(u *api.JobUpdate) **string { return &u.ExcNodes })},
	{"starttime", 5, strField(func(u *api.JobUpdate) **string { return &u.BeginTime })},
	{"deadline", 4, strField(func(u *api.JobUpdate) **string { return &u.Deadline })},
	{"mailtype", 5, setOnly(func(u *api.JobUpdate, v string) error {
		mt := parse.MailType(v)
		u.MailType = &mt
		return nil
	})},
	{"mailuser", 5, strField(func(u *api.JobUpdate) **string { return &u.MailUser })},
	{"requeue", 3, setOnly(func(u *api.JobUpdate, v string) error {
		b, err := parse.Bool(v)
		if err != nil {
			return err
		}
		u.Requeue = &b
		return nil
	})},
	{"hold", 4, setOnly(func(u *api.JobUpdate, v string) error {
		b, err := parse.Bool(v)
		if err != nil {
			return err
		}
		u.Hold = &b
		return nil
	})},
}

// lookupKey resolves an abbreviated key with a per-key minimum prefix
// length; a prefix matching more than one key is an error.
func lookupKey(key string) (*keyEntry, error) {
	lk := strings.ToLower(key)
	var found *keyEntry
	for i := range keyTable {
		e := &keyTable[i]
		if len(lk) >= e.minPrefix && strings.HasPrefix(e.name, lk) {
			if found != nil {
				return nil, fmt.Errorf("ambiguous field %q", key)
			}
			found = e
		}
	}
	if found == nil {
		return nil, fmt.Errorf("unrecognised field %q", key)
	}
	return found, nil
}

func applyNumNodes(u *api.JobUpdate, v string) error {
	switch {
	case v == "0":
		// release every node from the allocation
		zero := uint32(0)
		u.MinNodes, u.MaxNodes = &zero, &zero
		return nil
	case strings.EqualFold(v, "ALL"):
		inf := parse.Infinite
		u.MinNodes = &inf
		return nil
	}
	mn, mx, err := parse.NodeCount(v)
	if err != nil {
		return err
	}
	lo, hi := uint32(mn), uint32(mx)
	u.MinNodes = &lo
	if hi != lo {
		u.MaxNodes = &hi
	}
	return nil
}

func timeToWire(minutes int) uint32 {
	switch minutes {
	case parse.TimeInfinite:
		return parse.Infinite
	case parse.TimeUnset:
		return parse.NoVal
	}
	return uint32(minutes)
}

func tokenize(args []string) ([]token, error) {
	var toks []token
	for _, arg := range args {
		var t token
		switch {
		case strings.Contains(arg, "+="):
			k, v, _ := strings.Cut(arg, "+=")
			t = token{key: k, op: opAdd, value: v}
		case strings.Contains(arg, "-="):
			k, v, _ := strings.Cut(arg, "-=")
			t = token{key: k, op: opSub, value: v}
		case strings.Contains(arg, "="):
			k, v, _ := strings.Cut(arg, "=")
			t = token{key: k, op: opSet, value: v}
		default:
			return nil, fmt.Errorf("malformed update %q, expected key=value", arg)
		}
		if t.key == "" {
			return nil, fmt.Errorf("malformed update %q, empty field name", arg)
		}
		toks = append(toks, t)
	}
	return toks, nil
}

// Run parses the tokens and issues one update per target job id.
func (u *Updater) Run(ctx context.Context, args []string) error {
	toks, err := tokenize(args)
	if err != nil {
		return err
	}

	upd := &api.JobUpdate{}
	if u.UID != nil {
		upd.UserID = *u.UID
	}
	var jobExpr, nameSel string
	var timeOps []token
	resize := false

	for _, t := range toks {
		e, err := lookupKey(t.key)
		if err != nil {
			return err
		}
		switch e.name {
		case "jobid":
			if t.op != opSet {
				return errors.New("JobId can only be assigned")
			}
			jobExpr = t.value
		case "name", "jobname":
			if t.op != opSet {
				return errors.New("Name can only be assigned")
			}
			nameSel = t.value
		case "timelimit":
			timeOps = append(timeOps, t)
		default:
			if e.name == "numnodes" || e.name == "nodecnt" || e.name == "reqnodelist" {
				resize = true
			}
			if err := e.apply(upd, t.op, t.value); err != nil {
				if errors.Is(err, ErrHelp) {
					return u.printGresHelp()
				}
				return fmt.Errorf("%s: %w", t.key, err)
			}
		}
	}

	ids, err := u.resolveTargets(ctx, jobExpr, nameSel)
	if err != nil {
		return err
	}
	// a Name token alongside a JobId is a rename, not a selector
	if nameSel != "" && jobExpr != "" {
		upd.Name = &nameSel
	}

	if resize && (len(ids) != 1 || strings.Contains(ids[0], "_")) {
		return errors.New("node count changes require a single non-array job id")
	}

	// one failing array task must not block the rest
	var failures []error
	for _, id := range ids {
		one := *upd
		one.JobIDStr = id
		if err := u.applyTimeOps(ctx, &one, timeOps); err != nil {
			log.Logger.Error().Str("job_id", id).Err(err).Msg("job update failed")
			failures = append(failures, fmt.Errorf("job %s: %w", id, err))
			continue
		}
		if err := u.API.UpdateJob(ctx, &one); err != nil {
			log.Logger.Error().Str("job_id", id).Err(err).Msg("job update failed")
			failures = append(failures, fmt.Errorf("update job %s: %w", id, err))
			continue
		}
		log.Logger.Debug().Str("job_id", id).Msg("job updated")
	}
	if len(failures) > 0 {
		return errors.Join(failures...)
	}

	if resize {
		if err := u.writeResizeScripts(ctx, ids[0]); err != nil {
			return err
		}
	}
	return nil
}

// applyTimeOps folds TimeLimit tokens into the update, fetching the
// current limit from the controller for relative changes.
func (u *Updater) applyTimeOps(ctx context.Context, upd *api.JobUpdate, ops []token) error {
	for _, t := range ops {
		minutes, err := parse.TimeMinutes(t.value)
		if err != nil {
			return fmt.Errorf("%s: %w", t.key, err)
		}
		if t.op == opSet {
			w := timeToWire(minutes)
			upd.TimeLimit = &w
			continue
		}
		if minutes < 0 {
			return errors.New("relative time limit changes need a finite value")
		}
		info, err := u.API.GetJob(ctx, upd.JobIDStr)
		if err != nil {
			return fmt.Errorf("fetch current time limit: %w", err)
		}
		cur := info.TimeLimit
		if cur == parse.Infinite {
			return errors.New("job has an infinite time limit")
		}
		var next uint32
		if t.op == opAdd {
			next = cur + uint32(minutes)
		} else {
			if uint32(minutes) > cur {
				return fmt.Errorf("time limit decrement %dm exceeds current limit %dm", minutes, cur)
			}
			next = cur - uint32(minutes)
		}
		upd.TimeLimit = &next
	}
	return nil
}

// resolveTargets expands a job id expression or resolves a job name to
// ids via the controller.
func (u *Updater) resolveTargets(ctx context.Context, jobExpr, nameSel string) ([]string, error) {
	if jobExpr != "" {
		return ExpandJobIDs(jobExpr)
	}
	if nameSel == "" {
		return nil, errors.New("no JobId or Name given")
	}
	list, err := u.API.ListJobs(ctx, nameSel, u.UID)
	if err != nil {
		return nil, fmt.Errorf("resolve job name %q: %w", nameSel, err)
	}
	var ids []string
	for _, j := range list.Jobs {
		ids = append(ids, fmt.Sprint(j.JobID))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no jobs named %q", nameSel)
	}
	sort.Strings(ids)
	return ids, nil
}

// ExpandJobIDs expands array expressions like 42_[1-3,5] into
// individual task ids. Plain ids pass through unchanged.
func ExpandJobIDs(expr string) ([]string, error) {
	if !strings.Contains(expr, "[") {
		return []string{expr}, nil
	}
	ids, err := hostlist.Expand(expr)
	if err != nil {
		return nil, fmt.Errorf("job id expression %q: %w", expr, err)
	}
	return ids, nil
}

func (u *Updater) printGresHelp() error {
	out := u.Out
	if out == nil {
		return nil
	}
	fmt.Fprintln(out, "Valid gres specifications:")
	fmt.Fprintln(out, "  <name>[:<type>][:<count>[suffix]]")
	fmt.Fprintln(out, "Examples: gpu, gpu:2, gpu:tesla:4, mps:100")
	return nil
}
