package cache

// FileStore is the collaborator contract for block spill persistence (§6).
// It is out of scope for this repository beyond its interface; concrete
// implementations (local disk, object storage) live in pkg/filestore and
// wrap internal/storage.Storage.
type FileStore interface {
	// Open returns a handle for the given spill key, creating backing
	// storage lazily. Thread-safe per handle once opened.
	Open(key string) (FileHandle, error)
	// ReadBlock reads the raw element stream for a block into dst,
	// returning the number of bytes read.
	ReadBlock(handle FileHandle, dst []byte) (int, error)
	// WriteBlock writes the raw element stream for a block.
	WriteBlock(handle FileHandle, src []byte) error
	// Close releases the handle.
	Close(handle FileHandle) error
}

// FileHandle is an opaque reference to open spill storage for one Key.
type FileHandle interface{}
