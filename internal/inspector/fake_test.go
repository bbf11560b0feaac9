package inspector

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"kd5/internal/channel"
)

var dumpRe = regexp.MustCompile(`^_kd5\.dump\(("[^"]*"), ("[^"]*"), ("[^"]*")\)$`)

// fakeKernel answers helper calls by writing artifacts the way the
// kernel-side helper does.
type fakeKernel struct {
	t      *testing.T
	delay  time.Duration
	silent bool
	// answer returns the artifact for kind; an error produces the .err
	// companion instead.
	answer func(kind, name string) ([]byte, error)

	mu   sync.Mutex
	reqs []channel.Request
}

func (k *fakeKernel) Submit(_ context.Context, req channel.Request) error {
	k.mu.Lock()
	k.reqs = append(k.reqs, req)
	k.mu.Unlock()
	m := dumpRe.FindStringSubmatch(req.Code)
	if m == nil {
		k.t.Errorf("unexpected code %q", req.Code)
		return nil
	}
	var kind, name, path string
	for i, dst := range []*string{&kind, &name, &path} {
		if err := json.Unmarshal([]byte(m[i+1]), dst); err != nil {
			k.t.Errorf("argument %d of %q: %v", i, req.Code, err)
		}
	}
	if k.silent {
		return nil
	}
	go func() {
		time.Sleep(k.delay)
		b, err := k.answer(kind, name)
		if err != nil {
			_ = os.WriteFile(path+".err", []byte(err.Error()), 0o644)
			return
		}
		_ = os.WriteFile(path+".part", b, 0o644)
		_ = os.Rename(path+".part", path)
	}()
	return nil
}

func (k *fakeKernel) requests() []channel.Request {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]channel.Request(nil), k.reqs...)
}

// npyMatrix encodes a C-order float64 matrix the way numpy.save does.
func npyMatrix(rows, cols int, data []float64) []byte {
	hdr := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': (%d, %d), }", rows, cols)
	if pad := (10 + len(hdr) + 1) % 64; pad != 0 {
		hdr += strings.Repeat(" ", 64-pad)
	}
	hdr += "\n"
	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(hdr)))
	buf.WriteString(hdr)
	for _, v := range data {
		_ = binary.Write(&buf, binary.LittleEndian, math.Float64bits(v))
	}
	return buf.Bytes()
}

// npyRaw frames an already encoded payload behind an .npy v1 header.
func npyRaw(descr, shape, payload string) []byte {
	hdr := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shape)
	if pad := (10 + len(hdr) + 1) % 64; pad != 0 {
		hdr += strings.Repeat(" ", 64-pad)
	}
	hdr += "\n"
	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(hdr)))
	buf.WriteString(hdr)
	buf.WriteString(payload)
	return buf.Bytes()
}

// utf32 encodes s as numpy's fixed width little endian unicode cell.
func utf32(s string, width int) string {
	var buf bytes.Buffer
	n := 0
	for _, r := range s {
		_ = binary.Write(&buf, binary.LittleEndian, uint32(r))
		n++
	}
	for ; n < width; n++ {
		_ = binary.Write(&buf, binary.LittleEndian, uint32(0))
	}
	return buf.String()
}

func newTestInspector(t *testing.T, k *fakeKernel, cfg Config) *Inspector {
	t.Helper()
	k.t = t
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Poll == 0 {
		cfg.Poll = 10 * time.Millisecond
	}
	return New(k, cfg)
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range ents {
		t.Fatalf("artifact left behind: %s", e.Name())
	}
}
