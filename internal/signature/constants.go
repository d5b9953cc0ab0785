package signature

const (
	DefaultBlockSize   = 128 * 1024 // 128 KB
	DefaultAlgorithm   = MD5
	DefaultPermissions = 0644

	// LocalBatch marks records that did not come from the remote catalog
	// (patch files, manual inserts). It never takes part in the watermark.
	LocalBatch BatchID = 1<<32 - 1

	CommentMarker = "#"
)
