package utiljson

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJson(t *testing.T) {
	b, err := ToJson(map[string]int{"flagged": 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"flagged": 2}`, string(b))

	_, err = ToJson(make(chan int))
	assert.Error(t, err)
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, struct {
		Path string `json:"path"`
	}{Path: "/tmp/x"}))
	assert.Equal(t, "{\n  \"path\": \"/tmp/x\"\n}\n", buf.String())
}
