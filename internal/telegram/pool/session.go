package pool

import (
	"context"
	"os"
	"sync"

	"github.com/go-faster/errors"
	tdsession "github.com/gotd/td/session"

	"spectra-core/internal/ioutil"
)

// fileSessionStorage implements tdsession.Storage over a plain file,
// written atomically so a crash mid-save can never leave a half-written
// session on disk.
type fileSessionStorage struct {
	path string
	mu   sync.Mutex
}

var _ tdsession.Storage = (*fileSessionStorage)(nil)

func (f *fileSessionStorage) LoadSession(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session file")
	}
	return data, nil
}

func (f *fileSessionStorage) StoreSession(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ioutil.AtomicWriteFile(f.path, data)
}
