package jupyter

import _ "embed"

//go:embed helper.py
var helperSource string

// BootstrapCells returns the cells run against every kernel kd5 connects to
// and again after a namespace reset. The helper defines _kd5.dump which the
// inspector calls with quoted arguments.
func BootstrapCells() []string {
	return []string{
		"import numpy as _np",
		"import pandas as _pd",
		"import sys as _sys\n_np.set_printoptions(threshold=_sys.maxsize)",
		"%matplotlib agg",
		helperSource,
	}
}
