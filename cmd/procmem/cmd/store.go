package cmd

import (
	"fmt"

	"github.com/c2h5oh/datasize"

	"github.com/nicktill/procmem/pkg/config"
	"github.com/nicktill/procmem/pkg/storage"
	"github.com/nicktill/procmem/pkg/storage/badger"
	"github.com/nicktill/procmem/pkg/storage/filestore"
)

// openStore opens the snapshot store of the given backend rooted at dir.
// Read-only stores serve aggregate and list; they never create, sweep or
// delete files. A badger store held by a running collector cannot be opened
// at all and yields storage.ErrLocked.
func openStore(backend, dir string, maxFileSize datasize.ByteSize, readOnly bool) (storage.Store, error) {
	switch backend {
	case config.BackendFile, "":
		store, err := filestore.Open(filestore.Config{Dir: dir, MaxFileSize: maxFileSize, ReadOnly: readOnly})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendBadger:
		store, err := badger.New(badger.Config{
			Path:         dir,
			MaxMemoryMB:  config.DefaultBadgerMaxMemoryMB,
			MaxValueSize: maxFileSize,
			ReadOnly:     readOnly,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
