package inspector

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"kd5/pkg/types"
)

// Query is one typed remote query. Each maps to a kind understood by the
// kernel-side helper and a declared response shape.
type Query int

const (
	GetDoc Query = iota + 1
	GetSource
	GetModuleName
	GetText
	GetClass
	GetInstance
	GetStructure
	GetArrayAsFile
	GetTableAsFile
)

var queryKinds = map[Query]string{
	GetDoc:         "doc",
	GetSource:      "source",
	GetModuleName:  "module",
	GetText:        "text",
	GetClass:       "class",
	GetInstance:    "instance",
	GetStructure:   "structure",
	GetArrayAsFile: "array",
	GetTableAsFile: "table",
}

func (q Query) String() string {
	if k, ok := queryKinds[q]; ok {
		return k
	}
	return fmt.Sprintf("query(%d)", int(q))
}

// Shape is the response shape of a query.
type Shape int

const (
	ShapeText Shape = iota
	ShapeAttrs
	ShapeArray
	ShapeTable
)

// Shape returns how the artifact of q is decoded.
func (q Query) Shape() Shape {
	switch q {
	case GetClass, GetInstance, GetStructure:
		return ShapeAttrs
	case GetArrayAsFile:
		return ShapeArray
	case GetTableAsFile:
		return ShapeTable
	}
	return ShapeText
}

func (q Query) ext() string {
	switch q {
	case GetArrayAsFile:
		return ".npy"
	case GetTableAsFile:
		return ".tsv"
	}
	return ""
}

var (
	structTypes = []string{"dict", "tuple", "list", "set", "frozenset"}
	textTypes   = []string{"str", "unicode", "bytes", "bytearray", "Index", "MultiIndex"}
	tableTypes  = []string{"DataFrame", "Series"}
)

// QueriesFor returns the queries that materialise v, in order. A nil
// result means v is terminal: its preview is all there is.
func QueriesFor(v types.Variable) []Query {
	switch {
	case v.Type == "module":
		return []Query{GetModuleName}
	case v.Type == "function":
		return []Query{GetSource, GetDoc}
	case v.Type == "builtin_function_or_method":
		return []Query{GetDoc}
	case oneOf(v.Type, structTypes):
		return []Query{GetStructure}
	case oneOf(v.Type, textTypes):
		return []Query{GetText}
	case v.Type == "ndarray":
		return []Query{GetArrayAsFile}
	case oneOf(v.Type, tableTypes):
		return []Query{GetTableAsFile}
	case v.Type != "" && strings.Contains(v.Value, "."+v.Type):
		return []Query{GetInstance}
	case v.Type == "type":
		return []Query{GetClass}
	}
	return nil
}

func oneOf(s string, set []string) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidName reports whether name can be looked up in the kernel namespace.
func ValidName(name string) bool { return identRe.MatchString(name) }

// ArtifactPath is where the helper writes the answer to query q about name
// for request id.
func ArtifactPath(dir, name, id string, q Query) string {
	return filepath.Join(dir, "tmp_"+name+"-"+id+q.ext())
}

// Code returns the cell that asks the helper to answer q. All arguments
// are passed as string literals.
func Code(q Query, name, path string) string {
	return fmt.Sprintf("_kd5.dump(%s, %s, %s)", quote(q.String()), quote(name), quote(path))
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
