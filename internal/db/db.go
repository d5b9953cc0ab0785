package db

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"sigscan/internal/signature"

	"go.etcd.io/bbolt"
)

const (
	SignaturesBucket = "signatures"
	MetaBucket       = "meta"
	BatchesBucket    = "batches"

	CurrentSchemaVersion = 1

	DefaultOpenTimeout = 5 * time.Second
)

var (
	keyWatermark = []byte("last_batch")
	keyCount     = []byte("count")
	keyAlgorithm = []byte("algorithm")
	keySchema    = []byte("schema_version")
)

// SignatureDB хранит каталог отпечатков в bbolt.
// Reads run in View transactions and see the last committed snapshot,
// so they never wait for a batch that is being written.
type SignatureDB struct {
	db         *bbolt.DB
	writeMu    sync.Mutex
	serializer Serializer
	alg        signature.Algorithm
	logger     *slog.Logger
}

// Config содержит конфигурацию для SignatureDB
type Config struct {
	Path        string
	FileMode    os.FileMode
	Algorithm   signature.Algorithm
	OpenTimeout time.Duration
	ReadOnly    bool
	NoSync      bool
	Serializer  Serializer
	Logger      *slog.Logger
}

// NewSignatureDB opens or creates the signature store at cfg.Path.
func NewSignatureDB(cfg Config) (*SignatureDB, error) {
	if cfg.Serializer == nil {
		cfg.Serializer = &GobSerializer{}
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0666
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = signature.DefaultAlgorithm
	}
	if cfg.Algorithm.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", signature.ErrUnknownAlgorithm, cfg.Algorithm)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	db, err := bbolt.Open(cfg.Path, cfg.FileMode, &bbolt.Options{
		Timeout:  cfg.OpenTimeout,
		ReadOnly: cfg.ReadOnly,
		NoSync:   cfg.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open signature db %q: %w", cfg.Path, err)
	}

	sdb := &SignatureDB{
		db:         db,
		serializer: cfg.Serializer,
		alg:        cfg.Algorithm,
		logger:     cfg.Logger,
	}

	if cfg.ReadOnly {
		err = sdb.checkMeta()
	} else {
		err = sdb.init()
	}
	if err != nil {
		db.Close() // Закрываем БД в случае ошибки
		return nil, err
	}

	return sdb, nil
}

// init создает бакеты и записывает алгоритм при первом запуске
func (s *SignatureDB) init() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{SignaturesBucket, MetaBucket, BatchesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket([]byte(MetaBucket))
		if stored := meta.Get(keyAlgorithm); stored != nil {
			if signature.Algorithm(stored) != s.alg {
				return fmt.Errorf("%w: store uses %s, configured %s", signature.ErrAlgorithmMismatch, stored, s.alg)
			}
		} else if err := meta.Put(keyAlgorithm, []byte(s.alg)); err != nil {
			return err
		}

		if v := meta.Get(keySchema); v != nil && decodeUint64(v) > CurrentSchemaVersion {
			return fmt.Errorf("%w: schema version %d is newer than supported %d", signature.ErrIntegrity, decodeUint64(v), CurrentSchemaVersion)
		}
		return meta.Put(keySchema, encodeUint64(CurrentSchemaVersion))
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

func (s *SignatureDB) checkMeta() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil || tx.Bucket([]byte(SignaturesBucket)) == nil {
			return ErrBucketNotFound
		}
		if stored := meta.Get(keyAlgorithm); stored != nil && signature.Algorithm(stored) != s.alg {
			return fmt.Errorf("%w: store uses %s, configured %s", signature.ErrAlgorithmMismatch, stored, s.alg)
		}
		return nil
	})
}

func (s *SignatureDB) Close() error {
	if s.db == nil {
		return ErrNilDB
	}
	return s.db.Close()
}

func (s *SignatureDB) Algorithm() signature.Algorithm {
	return s.alg
}

func (s *SignatureDB) Path() string {
	return s.db.Path()
}

// Exists reports whether fp is in the catalog.
func (s *SignatureDB) Exists(fp signature.Fingerprint) (bool, error) {
	if len(fp) != s.alg.Size() {
		return false, nil
	}

	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(SignaturesBucket))
		if bucket == nil {
			return ErrBucketNotFound
		}
		found = bucket.Get(fp) != nil
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Get returns the record for fp together with its provenance batch.
func (s *SignatureDB) Get(fp signature.Fingerprint) (signature.Record, bool, error) {
	var (
		rec   signature.Record
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(SignaturesBucket))
		if bucket == nil {
			return ErrBucketNotFound
		}
		v := bucket.Get(fp)
		if v == nil {
			return nil
		}
		found = true
		rec = signature.Record{
			Fingerprint: append(signature.Fingerprint(nil), fp...),
			Batch:       signature.BatchID(binary.BigEndian.Uint32(v)),
		}
		return nil
	})
	return rec, found, err
}

// InsertBatch writes records in a single transaction. Duplicates are
// skipped, malformed fingerprints are dropped and listed in the result.
func (s *SignatureDB) InsertBatch(records []signature.Record) (signature.InsertResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var result signature.InsertResult
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		result, err = s.insert(tx, records)
		return err
	})
	if err != nil {
		return signature.InsertResult{}, fmt.Errorf("%w: %w", signature.ErrIntegrity, err)
	}
	return result, nil
}

// CommitBatch inserts the batch records and advances the watermark to
// batch.Index in the same transaction. The batch must be the next one
// after the current watermark, or batch 0 on an empty catalog.
func (s *SignatureDB) CommitBatch(batch *signature.Batch) (signature.InsertResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var result signature.InsertResult
	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return ErrBucketNotFound
		}

		var expected signature.BatchID
		if v := meta.Get(keyWatermark); v != nil {
			expected = signature.BatchID(decodeUint64(v)) + 1
		}
		if batch.Index != expected {
			return fmt.Errorf("%w: got batch %d, want %d", signature.ErrBatchOutOfOrder, batch.Index, expected)
		}

		var err error
		result, err = s.insert(tx, batch.Records)
		if err != nil {
			return err
		}

		info := signature.BatchInfo{
			Index:      batch.Index,
			Inserted:   result.Inserted,
			Duplicates: result.Duplicates,
			Rejected:   len(result.Rejected) + batch.Malformed,
			Provenance: batch.Provenance,
			IngestedAt: time.Now().UTC(),
		}
		data, err := s.serializer.Serialize(info)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(BatchesBucket)).Put(encodeUint64(uint64(batch.Index)), data); err != nil {
			return err
		}

		return meta.Put(keyWatermark, encodeUint64(uint64(batch.Index)))
	})
	if err != nil {
		if errors.Is(err, signature.ErrBatchOutOfOrder) {
			return signature.InsertResult{}, err
		}
		return signature.InsertResult{}, fmt.Errorf("%w: batch %d: %w", signature.ErrIntegrity, batch.Index, err)
	}

	s.logger.Debug("committed batch",
		slog.Int("batch", int(batch.Index)),
		slog.Int("inserted", result.Inserted),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("rejected", len(result.Rejected)),
	)
	return result, nil
}

func (s *SignatureDB) insert(tx *bbolt.Tx, records []signature.Record) (signature.InsertResult, error) {
	var result signature.InsertResult

	bucket := tx.Bucket([]byte(SignaturesBucket))
	meta := tx.Bucket([]byte(MetaBucket))
	if bucket == nil || meta == nil {
		return result, ErrBucketNotFound
	}

	// sorted keys keep page splits local
	sorted := make([]signature.Record, 0, len(records))
	for _, rec := range records {
		if len(rec.Fingerprint) != s.alg.Size() {
			result.Rejected = append(result.Rejected, signature.RejectedRecord{
				Record: rec,
				Err: fmt.Errorf("%w: %d bytes, want %d",
					signature.ErrMalformedFingerprint, len(rec.Fingerprint), s.alg.Size()),
			})
			continue
		}
		sorted = append(sorted, rec)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Fingerprint, sorted[j].Fingerprint) < 0
	})

	for _, rec := range sorted {
		if bucket.Get(rec.Fingerprint) != nil {
			result.Duplicates++
			continue
		}
		// bbolt keeps the slice until commit
		value := make([]byte, 4)
		binary.BigEndian.PutUint32(value, uint32(rec.Batch))
		if err := bucket.Put(rec.Fingerprint, value); err != nil {
			return result, fmt.Errorf("failed to put %s: %w", rec.Fingerprint, err)
		}
		result.Inserted++
	}

	count := decodeUint64(meta.Get(keyCount)) + uint64(result.Inserted)
	return result, meta.Put(keyCount, encodeUint64(count))
}

// Remove deletes fp and reports whether it was present.
func (s *SignatureDB) Remove(fp signature.Fingerprint) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var removed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(SignaturesBucket))
		meta := tx.Bucket([]byte(MetaBucket))
		if bucket == nil || meta == nil {
			return ErrBucketNotFound
		}
		if bucket.Get(fp) == nil {
			return nil
		}
		if err := bucket.Delete(fp); err != nil {
			return err
		}
		removed = true

		count := decodeUint64(meta.Get(keyCount))
		if count > 0 {
			count--
		}
		return meta.Put(keyCount, encodeUint64(count))
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", fp, err)
	}
	return removed, nil
}

// LatestBatch returns the watermark; ok is false when no batch was ingested yet.
func (s *SignatureDB) LatestBatch() (signature.BatchID, bool, error) {
	var (
		id signature.BatchID
		ok bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return ErrBucketNotFound
		}
		if v := meta.Get(keyWatermark); v != nil {
			id, ok = signature.BatchID(decodeUint64(v)), true
		}
		return nil
	})
	return id, ok, err
}

// Count returns the number of distinct fingerprints.
func (s *SignatureDB) Count() (uint64, error) {
	var count uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return ErrBucketNotFound
		}
		count = decodeUint64(meta.Get(keyCount))
		return nil
	})
	return count, err
}

// Batches возвращает манифест всех загруженных батчей
func (s *SignatureDB) Batches() ([]signature.BatchInfo, error) {
	var batches []signature.BatchInfo

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(BatchesBucket))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var info signature.BatchInfo
			if err := s.serializer.Deserialize(v, &info); err != nil {
				return err
			}
			batches = append(batches, info)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *SignatureDB) Stats() (Stats, error) {
	stats := Stats{Path: s.db.Path(), Algorithm: s.alg}

	if info, err := os.Stat(s.db.Path()); err == nil {
		stats.SizeBytes = info.Size()
	}

	var err error
	if stats.Signatures, err = s.Count(); err != nil {
		return stats, err
	}
	stats.LastBatch, stats.HasBatches, err = s.LatestBatch()
	return stats, err
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
