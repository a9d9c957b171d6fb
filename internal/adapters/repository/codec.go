package repository

import (
	"github.com/bytedance/sonic"
)

// EncodeDoc marshals a document column (metadata, result, user sets) for
// the SQL backends.
func EncodeDoc(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// DecodeDoc unmarshals a document column. Empty input leaves v untouched.
func DecodeDoc(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return sonic.Unmarshal(data, v)
}
