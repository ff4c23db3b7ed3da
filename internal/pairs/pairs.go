// Package pairs parses the CLI's -p/--pairs specification into an ordered
// symbol list, per §4.8: inline comma list, a .txt line-file, or a .csv
// column extraction. Grounded on the teacher's currency.NewPairsFromString
// family in the sense that symbol-list parsing belongs in its own small
// package distinct from config and from the client itself.
package pairs

import (
	"bufio"
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/kat-co/vala"

	"github.com/kdepth/krakenfeed/internal/kerrors"
)

// Parse dispatches on spec's shape and returns the resolved, ordered,
// non-empty symbol list (§4.8).
func Parse(spec string) ([]string, error) {
	var out []string
	var err error

	switch {
	case strings.Contains(spec, ",") && !looksLikePath(spec):
		out = parseInlineList(spec)
	case strings.HasSuffix(stripLimit(spec), ".txt"):
		out, err = parseTextFile(spec)
	case strings.Contains(spec, ".csv"):
		out, err = parseCSVFile(spec)
	default:
		return nil, &kerrors.InputSpecError{Spec: spec, Reason: "not an inline list, .txt file, or .csv file"}
	}
	if err != nil {
		return nil, &kerrors.InputSpecError{Spec: spec, Reason: err.Error()}
	}

	if verr := vala.BeginValidation().Validate(
		vala.IsNotNil(out, "out"),
	).Check(); verr != nil || len(out) == 0 {
		return nil, &kerrors.InputSpecError{Spec: spec, Reason: "resolved to an empty symbol list"}
	}
	return out, nil
}

func looksLikePath(spec string) bool {
	return strings.HasSuffix(stripLimit(spec), ".txt") || strings.Contains(spec, ".csv")
}

// stripLimit removes an optional trailing ":N" limit suffix so the
// extension check still matches "symbols.txt:50".
func stripLimit(spec string) string {
	idx := strings.LastIndex(spec, ":")
	if idx < 0 {
		return spec
	}
	if _, err := strconv.Atoi(spec[idx+1:]); err != nil {
		return spec
	}
	return spec[:idx]
}

func parseInlineList(spec string) []string {
	parts := strings.Split(spec, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseTextFile reads path (optionally suffixed ":N"), one symbol per
// non-comment non-empty trimmed line, limiting to the first N if present.
func parseTextFile(spec string) ([]string, error) {
	path := spec
	limit := -1
	if idx := strings.LastIndex(spec, ":"); idx >= 0 {
		if n, err := strconv.Atoi(spec[idx+1:]); err == nil {
			limit = n
			path = spec[:idx]
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if limit >= 0 && len(out) >= limit {
			break
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}

// parseCSVFile parses "path.csv:column[:N]": reads the header, matches
// column by exact name, reads the first N non-empty rows (or all if N is
// omitted or negative).
func parseCSVFile(spec string) ([]string, error) {
	fields := strings.Split(spec, ":")
	if len(fields) < 2 {
		return nil, &kerrors.InputSpecError{Spec: spec, Reason: "csv specification must be path.csv:column[:N]"}
	}
	path := fields[0]
	column := fields[1]
	limit := -1
	if len(fields) >= 3 {
		if n, err := strconv.Atoi(fields[2]); err == nil {
			limit = n
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	colIdx := -1
	for i, h := range header {
		if h == column {
			colIdx = i
			break
		}
	}
	if colIdx < 0 {
		return nil, &kerrors.InputSpecError{Spec: spec, Reason: "column " + column + " not found; available columns: " + strings.Join(header, ", ")}
	}

	var out []string
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		if colIdx >= len(row) {
			continue
		}
		val := strings.TrimSpace(row[colIdx])
		if val == "" {
			continue
		}
		if limit >= 0 && len(out) >= limit {
			break
		}
		out = append(out, val)
	}
	return out, nil
}
