package booklet

import (
	"fmt"
	"os"
	"path/filepath"
)

// processLock is a best-effort advisory file lock taken for the lifetime of
// a write-mode store. It guards against two processes opening the same
// Local Store directory for writing concurrently, the same role
// portalocker plays for the original's flat file.
type processLock struct {
	path string
}

func acquireProcessLock(dir string) (*processLock, error) {
	path := filepath.Join(dir, ".booklet.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLocked
		}
		return nil, err
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()
	return &processLock{path: path}, nil
}

func (l *processLock) release() error {
	if l == nil {
		return nil
	}
	return os.Remove(l.path)
}
