package kernel

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// encodeArgs gob-encodes v, used to fill JobDescriptor.KernelArgs on
// the launcher side before a job ships.
func encodeArgs(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("kernel: encode args: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeArgs gob-decodes b into v, used by the worker bootstrap loop
// once it has received its JobDescriptor.
func decodeArgs(b []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(v); err != nil {
		return fmt.Errorf("kernel: decode args: %w", err)
	}
	return nil
}
