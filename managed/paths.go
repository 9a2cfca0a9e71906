package managed

import "path/filepath"

// resolvePath resolves p relative to the directory of the file at base.
func resolvePath(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(base), p)
}
