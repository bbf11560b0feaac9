package inspector

import (
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/sbinet/npyio"

	"kd5/pkg/types"
)

// Array is an array materialised from an .npy artifact. Data holds one of
// []bool, []int64, []uint64, []float32, []float64, []complex64,
// []complex128 or []string, in row-major order unless Fortran is set.
// Narrow integer dtypes are widened to 64 bits.
type Array struct {
	Shape   []int
	Fortran bool
	Dtype   string
	Data    any
}

// Len is the number of elements.
func (a *Array) Len() int {
	switch d := a.Data.(type) {
	case []bool:
		return len(d)
	case []int64:
		return len(d)
	case []uint64:
		return len(d)
	case []float32:
		return len(d)
	case []float64:
		return len(d)
	case []complex64:
		return len(d)
	case []complex128:
		return len(d)
	case []string:
		return len(d)
	}
	return 0
}

// Cell formats element i of the flat data.
func (a *Array) Cell(i int) string {
	switch d := a.Data.(type) {
	case []bool:
		return strconv.FormatBool(d[i])
	case []int64:
		return strconv.FormatInt(d[i], 10)
	case []uint64:
		return strconv.FormatUint(d[i], 10)
	case []float32:
		return strconv.FormatFloat(float64(d[i]), 'g', -1, 32)
	case []float64:
		return strconv.FormatFloat(d[i], 'g', -1, 64)
	case []complex64:
		return strconv.FormatComplex(complex128(d[i]), 'g', -1, 64)
	case []complex128:
		return strconv.FormatComplex(d[i], 'g', -1, 128)
	case []string:
		return d[i]
	}
	return ""
}

// Rows returns a formatted 2-D view of the array: one row for a vector,
// Shape[0] rows for a matrix. Higher dimensions are flattened into the
// columns.
func (a *Array) Rows() [][]string {
	size := a.Len()
	if len(a.Shape) <= 1 {
		row := make([]string, size)
		for i := range row {
			row[i] = a.Cell(i)
		}
		return [][]string{row}
	}
	n := a.Shape[0]
	if n == 0 {
		return nil
	}
	cols := size / n
	out := make([][]string, n)
	for i := range out {
		row := make([]string, cols)
		for j := range row {
			if a.Fortran {
				row[j] = a.Cell(j*n + i)
			} else {
				row[j] = a.Cell(i*cols + j)
			}
		}
		out[i] = row
	}
	return out
}

// Table is a tab separated table artifact. Header holds the first row.
type Table struct {
	Header []string
	Rows   [][]string
}

var stringDtype = regexp.MustCompile(`^([<>|=]?)([SU])(\d+)$`)

func decodeArray(b []byte) (*Array, error) {
	r, err := npyio.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("read npy header: %w", err)
	}
	a := &Array{
		Shape:   append([]int(nil), r.Header.Descr.Shape...),
		Fortran: r.Header.Descr.Fortran,
		Dtype:   r.Header.Descr.Type,
	}
	if m := stringDtype.FindStringSubmatch(a.Dtype); m != nil {
		a.Data, err = decodeStrings(b, m[1] == ">", m[2] == "U", m[3], numElems(a.Shape))
	} else {
		a.Data, err = readTyped(r, strings.TrimLeft(a.Dtype, "<>|="))
	}
	if err != nil {
		return nil, fmt.Errorf("read npy data (%s): %w", a.Dtype, err)
	}
	return a, nil
}

func readTyped(r *npyio.Reader, kind string) (any, error) {
	switch kind {
	case "b1":
		return read[bool](r)
	case "i1":
		return widen[int8, int64](read[int8](r))
	case "i2":
		return widen[int16, int64](read[int16](r))
	case "i4":
		return widen[int32, int64](read[int32](r))
	case "i8":
		return read[int64](r)
	case "u1":
		return widen[uint8, uint64](read[uint8](r))
	case "u2":
		return widen[uint16, uint64](read[uint16](r))
	case "u4":
		return widen[uint32, uint64](read[uint32](r))
	case "u8":
		return read[uint64](r)
	case "f4":
		return read[float32](r)
	case "f8":
		return read[float64](r)
	case "c8":
		return read[complex64](r)
	case "c16":
		return read[complex128](r)
	}
	return nil, fmt.Errorf("unsupported dtype %q", kind)
}

func read[T any](r *npyio.Reader) ([]T, error) {
	var v []T
	if err := r.Read(&v); err != nil && err != io.EOF {
		return nil, err
	}
	if v == nil {
		v = []T{}
	}
	return v, nil
}

func widen[T int8 | int16 | int32 | uint8 | uint16 | uint32, U int64 | uint64](in []T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	out := make([]U, len(in))
	for i, x := range in {
		out[i] = U(x)
	}
	return out, nil
}

// decodeStrings reads fixed width S (bytes) or U (UTF-32) elements from the
// tail of an .npy payload. npyio has no reader for them.
func decodeStrings(b []byte, bigEndian, unicode bool, width string, n int) ([]string, error) {
	w, err := strconv.Atoi(width)
	if err != nil {
		return nil, err
	}
	item := w
	if unicode {
		item *= 4
	}
	if n*item > len(b) {
		return nil, fmt.Errorf("short payload: want %d bytes, have %d", n*item, len(b))
	}
	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}
	data := b[len(b)-n*item:]
	out := make([]string, n)
	for i := range out {
		cell := data[i*item : (i+1)*item]
		if !unicode {
			out[i] = string(bytes.TrimRight(cell, "\x00"))
			continue
		}
		var sb strings.Builder
		for j := 0; j < w; j++ {
			c := order.Uint32(cell[j*4:])
			if c == 0 {
				break
			}
			sb.WriteRune(rune(c))
		}
		out[i] = sb.String()
	}
	return out, nil
}

func numElems(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func decodeTable(b []byte) (*Table, error) {
	cr := csv.NewReader(bytes.NewReader(b))
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	recs, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read tsv: %w", err)
	}
	t := &Table{}
	if len(recs) > 0 {
		t.Header, t.Rows = recs[0], recs[1:]
	}
	return t, nil
}

type attr struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func decodeAttrs(b []byte) (map[string]types.Variable, error) {
	var raw map[string]attr
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	out := make(map[string]types.Variable, len(raw))
	for k, a := range raw {
		out[k] = types.Variable{Name: k, Type: a.Type, Value: a.Value}
	}
	return out, nil
}

func decodeText(b []byte) string { return strings.TrimRight(string(b), "\n") }
