// Package depgraph owns the one canonical dependency-expression parser and
// the DAG built from it. Every other surface in this module — the executor,
// the treasury state machine's dependency view, any future validator or CLI
// — calls into ParseDependencies rather than re-implementing it. A second
// copy of this parser anywhere else in the tree is a regression.
package depgraph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseDependencies extracts the ordered list of prerequisite disbursement
// ids from a memo string. Two equivalent forms are accepted:
//
//   - a JSON object carrying a "deps" array of integers, e.g. {"deps":[1,2,3]}
//   - key=value pairs separated by ';' or whitespace, one of which is
//     "deps=1,2,3" (a comma-separated id list)
//
// Both forms parse to the same ordered []uint64. A memo with no
// recognisable dependency expression returns a nil, empty slice and no
// error: most memos carry no dependencies at all.
func ParseDependencies(memo string) ([]uint64, error) {
	memo = strings.TrimSpace(memo)
	if memo == "" {
		return nil, nil
	}

	if strings.HasPrefix(memo, "{") {
		return parseJSONDeps(memo)
	}
	return parseKeyValueDeps(memo)
}

type jsonMemo struct {
	Deps []uint64 `json:"deps"`
}

func parseJSONDeps(memo string) ([]uint64, error) {
	var m jsonMemo
	if err := json.Unmarshal([]byte(memo), &m); err != nil {
		return nil, fmt.Errorf("depgraph: invalid json memo: %w", err)
	}
	return m.Deps, nil
}

func parseKeyValueDeps(memo string) ([]uint64, error) {
	fields := strings.FieldsFunc(memo, func(r rune) bool {
		return r == ';' || r == ' ' || r == '\t' || r == '\n'
	})
	for _, field := range fields {
		k, v, ok := strings.Cut(field, "=")
		if !ok || strings.TrimSpace(k) != "deps" {
			continue
		}
		return parseIDList(v)
	}
	return nil, nil
}

func parseIDList(csv string) ([]uint64, error) {
	parts := strings.Split(csv, ",")
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("depgraph: invalid dependency id %q: %w", p, err)
		}
		out = append(out, id)
	}
	return out, nil
}
