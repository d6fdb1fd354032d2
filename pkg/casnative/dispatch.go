package casnative

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

// ScriptCandidate is one console-script declaration found while indexing a
// site's dist-info trees.
type ScriptCandidate struct {
	DistName string
	Module   string
	Attr     string
}

// ConsoleScriptIndex maps a script name to every distribution that declares
// it, in discovery order; the last element of each slice is the most
// recent insertion, which the S4 tie-break rule selects.
type ConsoleScriptIndex map[string][]ScriptCandidate

// BuildConsoleScriptIndex scans every `.dist-info/entry_points.txt` under
// the given sys.path entries (§4.8).
func BuildConsoleScriptIndex(sitePackagesPaths []string) (ConsoleScriptIndex, error) {
	idx := ConsoleScriptIndex{}
	for _, root := range sitePackagesPaths {
		entries, err := os.ReadDir(root)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, &pxerr.UserError{Reason: pxerr.ReasonCASNativeConsoleScriptIndexFailed, Cause: err}
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.HasSuffix(e.Name(), ".dist-info") {
				continue
			}
			distName := strings.TrimSuffix(e.Name(), ".dist-info")
			epFile := filepath.Join(root, e.Name(), "entry_points.txt")
			candidates, err := parseConsoleScripts(epFile, distName)
			if err != nil {
				return nil, &pxerr.UserError{Reason: pxerr.ReasonCASNativeConsoleScriptIndexFailed, Cause: err}
			}
			for name, c := range candidates {
				idx[name] = append(idx[name], c)
			}
		}
	}
	return idx, nil
}

func parseConsoleScripts(epFile, distName string) (map[string]ScriptCandidate, error) {
	f, err := os.Open(epFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := map[string]ScriptCandidate{}
	inConsoleScripts := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") {
			inConsoleScripts = line == "[console_scripts]"
			continue
		}
		if !inConsoleScripts {
			continue
		}
		name, target, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		target = strings.TrimSpace(target)
		module, attr, _ := strings.Cut(target, ":")
		out[name] = ScriptCandidate{DistName: distName, Module: strings.TrimSpace(module), Attr: strings.TrimSpace(attr)}
	}
	return out, scanner.Err()
}

// Resolution is the outcome of looking up a script name in the index.
type Resolution struct {
	Candidate ScriptCandidate
	Fallback  *pxerr.Fallback
}

// Resolve implements the dispatch decision of §4.8: exactly one candidate
// dispatches natively; more than one falls back to materialization with
// `ambiguous_console_script`, deterministically reporting the last
// insertion order's candidate as the one that "would have" run (S4).
func (idx ConsoleScriptIndex) Resolve(name string) Resolution {
	candidates, ok := idx[name]
	if !ok || len(candidates) == 0 {
		return Resolution{Fallback: &pxerr.Fallback{Code: pxerr.FallbackUnresolvedConsoleScript,
			Message: "no console script named " + name + " found in profile"}}
	}
	if len(candidates) == 1 {
		return Resolution{Candidate: candidates[0]}
	}
	return Resolution{
		Candidate: candidates[len(candidates)-1],
		Fallback: &pxerr.Fallback{Code: pxerr.FallbackAmbiguousConsoleScript,
			Message: "script " + name + " is declared by multiple packages: " + distNames(candidates)},
	}
}

func distNames(cs []ScriptCandidate) string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.DistName
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// DispatchScript is the `python -c <dispatch-script>` source launched for a
// resolved, unambiguous console script (§4.8 step 2).
const dispatchScriptTemplate = `import sys
sys.argv[0] = %q
from %s import %s as _entry
sys.exit(_entry())
`

func DispatchScript(c ScriptCandidate, argv0 string) string {
	return fmt.Sprintf(dispatchScriptTemplate, argv0, c.Module, c.Attr)
}
