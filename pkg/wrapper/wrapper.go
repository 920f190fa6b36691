// Package wrapper translates foreign batch-directive syntaxes (#BSUB,
// #PBS) embedded in a script body into synthetic argv tokens, which
// the caller feeds through the same option setters as real argv so
// validation stays uniform.
package wrapper

import (
	"fmt"
	"strconv"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// Syntax selects the directive dialect.
type Syntax int

const (
	BSUB Syntax = iota
	PBS
)

func (s Syntax) magic() string {
	if s == BSUB {
		return "#BSUB"
	}
	return "#PBS"
}

// maxScanLines bounds the scan: after this many consecutive
// non-directive lines the rest of the script is ignored.
const maxScanLines = 100

// Translate scans a script body for directive lines and returns the
// equivalent argv tokens, in script order.
func Translate(body []byte, syntax Syntax) ([]string, error) {
	magic := syntax.magic()
	var argv []string
	skipped := 0
	for _, line := range strings.Split(string(body), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, magic) {
			skipped++
			if skipped > maxScanLines {
				break
			}
			continue
		}
		skipped = 0
		tokens, err := shellwords.Parse(strings.TrimPrefix(trimmed, magic))
		if err != nil {
			return nil, fmt.Errorf("bad directive %q: %w", trimmed, err)
		}
		var translated []string
		if syntax == BSUB {
			translated, err = translateBSUB(tokens)
		} else {
			translated, err = translatePBS(tokens)
		}
		if err != nil {
			return nil, err
		}
		argv = append(argv, translated...)
	}
	return argv, nil
}

func need(tokens []string, i int, opt string) (string, error) {
	if i+1 >= len(tokens) {
		return "", fmt.Errorf("directive option %s requires a value", opt)
	}
	return tokens[i+1], nil
}

func translateBSUB(tokens []string) ([]string, error) {
	var out []string
	for i := 0; i < len(tokens); i++ {
		opt := tokens[i]
		val := func() (string, error) { return need(tokens, i, opt) }
		switch opt {
		case "-c":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--chdir="+v)
			i++
		case "-e":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--error="+v)
			i++
		case "-J":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--job-name="+v)
			i++
		case "-o":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--output="+v)
			i++
		case "-m":
			// host list: spaces become commas
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--nodelist="+strings.Join(strings.Fields(v), ","))
			i++
		case "-M":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--mem-per-cpu="+v)
			i++
		case "-n":
			v, err := val()
			if err != nil {
				return nil, err
			}
			// "min,max": the max side sets the task count
			if _, max, ok := strings.Cut(v, ","); ok {
				v = max
			}
			out = append(out, "--ntasks="+v)
			i++
		case "-q":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--partition="+v)
			i++
		case "-W":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--time="+v)
			i++
		case "-x":
			out = append(out, "--exclusive")
		default:
			// untranslatable directives are dropped
		}
	}
	return out, nil
}

var pbsMailLetters = map[byte]string{
	'b': "BEGIN", 'e': "END", 'a': "FAIL", 'n': "NONE",
}

func translatePBS(tokens []string) ([]string, error) {
	var out []string
	for i := 0; i < len(tokens); i++ {
		opt := tokens[i]
		val := func() (string, error) { return need(tokens, i, opt) }
		switch opt {
		case "-a":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--begin="+v)
			i++
		case "-A":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--account="+v)
			i++
		case "-e":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--error="+v)
			i++
		case "-o":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--output="+v)
			i++
		case "-N":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--job-name="+v)
			i++
		case "-J", "-t":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--array="+v)
			i++
		case "-m":
			v, err := val()
			if err != nil {
				return nil, err
			}
			var types []string
			for j := 0; j < len(v); j++ {
				if name, ok := pbsMailLetters[v[j]]; ok {
					types = append(types, name)
				}
			}
			if len(types) > 0 {
				out = append(out, "--mail-type="+strings.Join(types, ","))
			}
			i++
		case "-M":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--mail-user="+v)
			i++
		case "-p":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--nice="+v)
			i++
		case "-q":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--partition="+v)
			i++
		case "-v":
			v, err := val()
			if err != nil {
				return nil, err
			}
			out = append(out, "--export="+v)
			i++
		case "-W":
			v, err := val()
			if err != nil {
				return nil, err
			}
			switch {
			case strings.HasPrefix(v, "umask="):
				out = append(out, "--umask="+strings.TrimPrefix(v, "umask="))
			case strings.HasPrefix(v, "depend="):
				out = append(out, "--dependency="+strings.TrimPrefix(v, "depend="))
			}
			i++
		case "-l":
			v, err := val()
			if err != nil {
				return nil, err
			}
			translated, err := translatePBSResources(v)
			if err != nil {
				return nil, err
			}
			out = append(out, translated...)
			i++
		default:
			// untranslatable directives are dropped
		}
	}
	return out, nil
}

// stripB removes a trailing B from byte-count suffixes so GB/MB
// behave like G/M.
func stripB(v string) string {
	if n := len(v); n >= 2 && (v[n-1] == 'B' || v[n-1] == 'b') {
		switch v[n-2] {
		case 'k', 'K', 'm', 'M', 'g', 'G', 't', 'T':
			return v[:n-1]
		}
	}
	return v
}

// translatePBSResources handles the -l resource_list sublanguage.
func translatePBSResources(list string) ([]string, error) {
	var out []string
	var selectN, ncpus, mpiprocs int

	// PBS-Pro select chunks use ':' between resources:
	// select=2:ncpus=16:mpiprocs=8. Flatten them into plain items.
	var items []string
	for _, item := range strings.Split(list, ",") {
		if strings.HasPrefix(item, "select=") {
			items = append(items, strings.Split(item, ":")...)
			continue
		}
		items = append(items, item)
	}

	for _, item := range items {
		key, value, _ := strings.Cut(item, "=")
		switch key {
		case "nodes":
			argv, err := pbsNodes(value)
			if err != nil {
				return nil, err
			}
			out = append(out, argv...)
		case "walltime", "cput", "pcput":
			out = append(out, "--time="+value)
		case "mem":
			out = append(out, "--mem="+stripB(value))
		case "file":
			out = append(out, "--tmp="+stripB(value))
		case "mppnodes":
			out = append(out, "--nodelist="+value)
		case "mppwidth":
			out = append(out, "--ntasks="+value)
		case "mppdepth":
			out = append(out, "--cpus-per-task="+value)
		case "mppnppn":
			out = append(out, "--ntasks-per-node="+value)
		case "naccelerators":
			out = append(out, "--gres=gpu:"+value)
		case "ncpus":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("bad ncpus value %q", value)
			}
			ncpus = n
			out = append(out, "--mincpus="+value)
		case "mpiprocs":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("bad mpiprocs value %q", value)
			}
			mpiprocs = n
			out = append(out, "--ntasks-per-node="+value)
		case "nice":
			out = append(out, "--nice="+value)
		case "proc":
			// Appends to any existing constraint; combination uses
			// '&' (see DESIGN.md, open question).
			out = append(out, "--constraint-append="+value)
		case "select":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("bad select value %q", value)
			}
			selectN = n
			out = append(out, "--nodes="+value)
		}
	}

	// PBS-Pro triple: select + ncpus + mpiprocs with ncpus evenly
	// divisible gives cpus-per-task.
	if selectN > 0 && ncpus > mpiprocs && mpiprocs > 0 && ncpus%mpiprocs == 0 {
		out = append(out, "--cpus-per-task="+strconv.Itoa(ncpus/mpiprocs))
	}
	return out, nil
}

// pbsNodes parses nodes=N[:ppn=M][+host[:ppn=M]...] forms.
func pbsNodes(value string) ([]string, error) {
	var out []string
	var hosts []string
	nodes := 0
	ppn := 0
	for _, part := range strings.Split(value, "+") {
		fields := strings.Split(part, ":")
		head := fields[0]
		if n, err := strconv.Atoi(head); err == nil {
			nodes += n
		} else if head != "" {
			hosts = append(hosts, head)
			nodes++
		}
		for _, f := range fields[1:] {
			if v, ok := strings.CutPrefix(f, "ppn="); ok {
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, fmt.Errorf("bad ppn value %q", v)
				}
				ppn = n
			}
		}
	}
	if nodes > 0 {
		out = append(out, "--nodes="+strconv.Itoa(nodes))
	}
	if len(hosts) > 0 {
		out = append(out, "--nodelist="+strings.Join(hosts, ","))
	}
	if ppn > 0 {
		out = append(out, "--ntasks-per-node="+strconv.Itoa(ppn))
	}
	return out, nil
}
