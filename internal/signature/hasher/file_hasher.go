package hasher

import (
	"fmt"
	"io"
	"os"
	"sync"

	"sigscan/internal/signature"
)

var _ signature.FileHasher = (*Hasher)(nil)

type Hasher struct {
	alg       signature.Algorithm
	blockSize int
	buffers   sync.Pool
}

func New(alg signature.Algorithm, blockSize int) (*Hasher, error) {
	if alg == "" {
		alg = signature.DefaultAlgorithm
	}
	if alg.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", signature.ErrUnknownAlgorithm, alg)
	}
	if blockSize <= 0 {
		blockSize = signature.DefaultBlockSize
	}

	h := &Hasher{
		alg:       alg,
		blockSize: blockSize,
	}
	h.buffers.New = func() any {
		buf := make([]byte, h.blockSize)
		return &buf
	}
	return h, nil
}

func (h *Hasher) Algorithm() signature.Algorithm {
	return h.alg
}

// HashFile streams the file through the digest one block at a time.
// Zero-length files yield signature.NoFingerprint and no error.
func (h *Hasher) HashFile(path string) (signature.Fingerprint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open file %s: %w", signature.ErrUnreadableFile, path, err)
	}
	defer file.Close()

	digest, err := h.alg.New()
	if err != nil {
		return nil, err
	}

	bufPtr := h.buffers.Get().(*[]byte)
	defer h.buffers.Put(bufPtr)

	// io.CopyBuffer would pick file.WriteTo and skip our buffer
	n, err := io.CopyBuffer(digest, struct{ io.Reader }{file}, *bufPtr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read file %s: %w", signature.ErrUnreadableFile, path, err)
	}
	if n == 0 {
		return signature.NoFingerprint, nil
	}

	return digest.Sum(nil), nil
}
