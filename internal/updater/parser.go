package updater

import (
	"bufio"
	"io"
	"strings"

	"sigscan/internal/signature"
)

const maxLineLength = 64 * 1024

// ParseBatch reads one fingerprint per line. Blank lines and comment
// lines are skipped; the last non-empty comment becomes the provenance.
// Malformed lines are counted, never fatal. Only read errors are returned.
func ParseBatch(r io.Reader, idx signature.BatchID, alg signature.Algorithm) (*signature.Batch, error) {
	batch := &signature.Batch{Index: idx}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, signature.CommentMarker) {
			if text := strings.TrimSpace(strings.TrimLeft(line, signature.CommentMarker)); text != "" {
				batch.Provenance = text
			}
			continue
		}

		fp, err := signature.ParseFingerprint(line, alg)
		if err != nil {
			batch.Malformed++
			continue
		}
		batch.Records = append(batch.Records, signature.Record{Fingerprint: fp, Batch: idx})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return batch, nil
}
