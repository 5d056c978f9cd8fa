package storage

import (
	"bytes"
	"encoding/json"
)

// decodeJSON keeps numbers as json.Number so large integers survive a reload
func decodeJSON(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
