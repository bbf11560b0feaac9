package watcher

import (
	"regexp"
	"strings"

	"kd5/pkg/types"
)

// ListingCommand prints the interactive namespace as a fixed-width table.
const ListingCommand = "%whos"

const (
	listingHeaderLines = 2
	emptyNamespace     = "Interactive namespace is empty"
)

var (
	rowRe   = regexp.MustCompile(`^(\S+)\s+(\S+)\s*(.*)$`)
	dimsRe  = regexp.MustCompile(`^(\d+(?:x\d+)*)(?::|$)`)
	tupleRe = regexp.MustCompile(`^\(\s*\d+\s*(?:,\s*\d*\s*)*\)$`)
	countRe = regexp.MustCompile(`^n=(\d+)$`)
)

// ParseListing converts the listing table into variables keyed by name.
// The two header lines and trailing blank lines are skipped; each row is
// split into name, type and a value preview on runs of whitespace.
func ParseListing(text string) map[string]types.Variable {
	vars := make(map[string]types.Variable)
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), emptyNamespace) {
		return vars
	}
	if len(lines) <= listingHeaderLines {
		return vars
	}
	for _, line := range lines[listingHeaderLines:] {
		m := rowRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		v := types.Variable{Name: m[1], Type: m[2], Value: strings.TrimSpace(m[3])}
		v.Shape = shapeHint(v.Type, v.Value)
		vars[v.Name] = v
	}
	return vars
}

// shapeHint extracts a size or shape from the preview: the dimensions of
// an array ("3x3: 9 elems, ..." or "(3,3)") or the length of a container
// ("n=4").
func shapeHint(typ, value string) string {
	if m := countRe.FindStringSubmatch(value); m != nil {
		return m[1]
	}
	if typ == "ndarray" || typ == "matrix" {
		if tupleRe.MatchString(value) {
			return value
		}
		if m := dimsRe.FindStringSubmatch(value); m != nil {
			return m[1]
		}
	}
	return ""
}
