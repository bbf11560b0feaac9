package inspector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"kd5/internal/common/fsutil"
)

// artifactName matches the files ArtifactPath names, including the error
// and partial companions the helper writes next to them.
var artifactName = regexp.MustCompile(`^tmp_.+-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(\.npy|\.tsv)?(\.err|\.part)?$`)

// Sweep removes artifacts in Dir older than Config.StaleAfter. They are
// left behind when the kernel answers a query after its waiter gave up.
func (in *Inspector) Sweep() (int, error) {
	n, err := sweep(in.cfg.Dir, time.Now().Add(-in.cfg.StaleAfter))
	if n > 0 {
		in.log.Info().Int("removed", n).Str("dir", in.cfg.Dir).Msg("stale artifacts swept")
	}
	return n, err
}

func sweep(dir string, before time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read artifact dir: %w", err)
	}
	var (
		n    int
		errs []error
	)
	for _, e := range entries {
		if e.IsDir() || !artifactName.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(before) {
			continue
		}
		if err := fsutil.RemoveIfExists(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
