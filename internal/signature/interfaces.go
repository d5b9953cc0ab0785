package signature

// Lookup is the read side of the signature store used during scans.
type Lookup interface {
	Exists(fp Fingerprint) (bool, error)
}

type Store interface {
	Lookup
	InsertBatch(records []Record) (InsertResult, error)
	CommitBatch(batch *Batch) (InsertResult, error)
	LatestBatch() (BatchID, bool, error)
	Remove(fp Fingerprint) (bool, error)
	Count() (uint64, error)
	Close() error
}

type FileHasher interface {
	HashFile(path string) (Fingerprint, error)
}
