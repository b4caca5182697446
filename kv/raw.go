package kv

// rawStorage is a key-value engine (Bolt, in-memory, Badger).
type rawStorage interface {
	// BeginTx starts a new transaction.
	BeginTx(writable bool) (rawTx, error)
	// Close closes the engine.
	Close() error
}

// rawTx is one engine transaction. Buckets are flat, one per named map.
type rawTx interface {
	Writable() bool

	// Bucket returns nil if the bucket doesn't exist.
	Bucket(name string) (rawBucket, error)

	// CreateBucket creates a bucket if it doesn't exist.
	CreateBucket(name string) (rawBucket, error)

	// DeleteBucket returns ErrMapNotFound if the bucket doesn't exist.
	DeleteBucket(name string) error

	BucketNames() ([]string, error)

	// Commit reports false with a nil error when a concurrent transaction
	// has won a write-write race.
	Commit() (bool, error)

	// Rollback aborts the transaction. It must be safe to call multiple times.
	Rollback()
}

// rawBucket is a sorted collection of unique keys.
type rawBucket interface {
	Get(key []byte) (value []byte, found bool, err error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Cursor() rawCursor
	Stats() (MapStats, error)
}

// multiBucket is implemented by buckets that keep duplicate keys natively,
// sorted by key and then by value.
type multiBucket interface {
	rawBucket
	// PutPair returns false if the pair is already present.
	PutPair(key, value []byte) (bool, error)
	// DeletePair returns false if the pair is absent.
	DeletePair(key, value []byte) (bool, error)
	// DeleteKey removes every value under key and returns how many there were.
	DeleteKey(key []byte) (int, error)
}

// rawCursor moves over raw entries. A nil key means there is no entry in the
// requested direction.
type rawCursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)
	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)
	Next() (key, value []byte)
	Prev() (key, value []byte)
	// Err reports a failure that ended the iteration early.
	Err() error
	// Close releases engine resources; safe to call multiple times.
	Close()
}

// MapStats describes the size of a named map.
type MapStats struct {
	Entries   int
	KeyBytes  int64
	DataBytes int64
	// Alloc is the engine-reported allocation, or zero when the engine doesn't
	// track it.
	Alloc int64
}

func (s MapStats) TotalBytes() int64 { return s.KeyBytes + s.DataBytes }
