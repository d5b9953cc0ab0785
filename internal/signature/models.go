package signature

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Fingerprint is a raw content digest. A nil Fingerprint is the
// "no fingerprint" sentinel produced for zero-length files.
type Fingerprint []byte

// NoFingerprint is returned by hashers for empty files.
var NoFingerprint Fingerprint

func (f Fingerprint) IsEmpty() bool {
	return len(f) == 0
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f)
}

// ParseFingerprint decodes a hex fingerprint and checks it against the
// digest size of alg.
func ParseFingerprint(s string, alg Algorithm) (Fingerprint, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedFingerprint, s, err)
	}
	if len(raw) != alg.Size() {
		return nil, fmt.Errorf("%w: %q has %d bytes, want %d", ErrMalformedFingerprint, s, len(raw), alg.Size())
	}
	return raw, nil
}

// BatchID is the index of a remotely published batch.
type BatchID uint32

type Record struct {
	Fingerprint Fingerprint
	Batch       BatchID
}

// Batch is one parsed remote batch file.
type Batch struct {
	Index      BatchID
	Records    []Record
	Malformed  int
	Provenance string
}

// BatchInfo is the manifest entry persisted when a batch is committed.
type BatchInfo struct {
	Index      BatchID
	Inserted   int
	Duplicates int
	Rejected   int
	Provenance string
	IngestedAt time.Time
}

// RejectedRecord is a record dropped by the store instead of aborting the batch.
type RejectedRecord struct {
	Record Record
	Err    error
}

type InsertResult struct {
	Inserted   int
	Duplicates int
	Rejected   []RejectedRecord
}

func (r *InsertResult) Add(other InsertResult) {
	r.Inserted += other.Inserted
	r.Duplicates += other.Duplicates
	r.Rejected = append(r.Rejected, other.Rejected...)
}
