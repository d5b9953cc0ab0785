package signature

import "errors"

var (
	ErrInvalidPath          = errors.New("invalid path")
	ErrUnreadableFile       = errors.New("unreadable file")
	ErrIntegrity            = errors.New("signature store integrity error")
	ErrMalformedFingerprint = errors.New("malformed fingerprint")
	ErrEndOfCatalog         = errors.New("end of catalog")
	ErrNetwork              = errors.New("catalog network error")
	ErrBatchOutOfOrder      = errors.New("batch out of order")
	ErrAlgorithmMismatch    = errors.New("fingerprint algorithm mismatch")
	ErrUnknownAlgorithm     = errors.New("unknown fingerprint algorithm")
)
