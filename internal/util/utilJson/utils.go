package utiljson

import (
	"encoding/json"
	"io"
)

func ToJson(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Write encodes v as indented JSON followed by a newline.
func Write(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
