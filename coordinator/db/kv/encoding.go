package kv

import (
	"encoding/binary"
	"encoding/json"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// encode marshals a value to JSON and snappy-compresses it for storage.
func encode(v interface{}) ([]byte, error) {
	enc, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "could not marshal value")
	}
	return snappy.Encode(nil, enc), nil
}

// decode reverses encode into the destination value.
func decode(data []byte, v interface{}) error {
	dec, err := snappy.Decode(nil, data)
	if err != nil {
		return errors.Wrap(err, "could not decompress value")
	}
	return errors.Wrap(json.Unmarshal(dec, v), "could not unmarshal value")
}

// itob returns an 8-byte big-endian representation of i, so numeric keys
// iterate in order.
func itob(i int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(i))
	return b
}
