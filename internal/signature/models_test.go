package signature

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFingerprint(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		alg     Algorithm
		wantErr bool
	}{
		{name: "md5 lowercase", input: "d41d8cd98f00b204e9800998ecf8427e", alg: MD5},
		{name: "md5 uppercase with spaces", input: "  D41D8CD98F00B204E9800998ECF8427E \r", alg: MD5},
		{name: "sha256", input: strings.Repeat("ab", 32), alg: SHA256},
		{name: "wrong length", input: "d41d8cd98f00b204", alg: MD5, wantErr: true},
		{name: "not hex", input: strings.Repeat("zz", 16), alg: MD5, wantErr: true},
		{name: "md5 under sha256", input: "d41d8cd98f00b204e9800998ecf8427e", alg: SHA256, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp, err := ParseFingerprint(tt.input, tt.alg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedFingerprint)
				assert.Nil(t, fp)
				return
			}
			require.NoError(t, err)
			assert.Len(t, fp, tt.alg.Size())
			assert.Equal(t, strings.ToLower(strings.TrimSpace(tt.input)), fp.String())
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	alg, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, MD5, alg)

	alg, err = ParseAlgorithm("SHA256")
	require.NoError(t, err)
	assert.Equal(t, SHA256, alg)

	_, err = ParseAlgorithm("crc32")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestInsertResult_Add(t *testing.T) {
	total := InsertResult{Inserted: 2}
	total.Add(InsertResult{Inserted: 1, Duplicates: 3, Rejected: []RejectedRecord{{Err: ErrMalformedFingerprint}}})

	assert.Equal(t, 3, total.Inserted)
	assert.Equal(t, 3, total.Duplicates)
	assert.Len(t, total.Rejected, 1)
}
