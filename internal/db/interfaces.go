package db

import "sigscan/internal/signature"

var _ signature.Store = (*SignatureDB)(nil)
