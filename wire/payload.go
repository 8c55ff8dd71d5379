package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PayloadKind discriminates the tagged union carried by every
// Envelope: an explicit union that kernels declare statically at
// their communicator call sites, rather than a dynamically-typed,
// opaque message body.
type PayloadKind uint8

const (
	// PayloadNone carries no data (control envelopes).
	PayloadNone PayloadKind = iota
	// PayloadScalar carries a single gob-encodable scalar value.
	PayloadScalar
	// PayloadArray carries a homogeneous numeric array with an
	// explicit element kind and shape.
	PayloadArray
	// PayloadList carries a sequence of Payloads, used for scatter
	// and gather.
	PayloadList
	// PayloadBlob carries an opaque byte string with a caller-defined
	// schema (job descriptors, hello/fail bodies).
	PayloadBlob
)

// Payload is the tagged union transmitted inside an Envelope. Exactly
// one field is meaningful, selected by Kind.
type Payload struct {
	Kind   PayloadKind
	Scalar interface{}
	Array  *NDArray
	List   []Payload
	Blob   []byte
}

// ScalarPayload wraps v (an int64, float64, string, or bool) as a
// PayloadScalar.
func ScalarPayload(v interface{}) Payload {
	return Payload{Kind: PayloadScalar, Scalar: v}
}

// BlobPayload wraps b as a PayloadBlob.
func BlobPayload(b []byte) Payload {
	return Payload{Kind: PayloadBlob, Blob: b}
}

// ListPayload wraps ps as a PayloadList.
func ListPayload(ps []Payload) Payload {
	return Payload{Kind: PayloadList, List: ps}
}

// ElementKind identifies the element type of an NDArray.
type ElementKind uint8

const (
	ElemFloat64 ElementKind = iota
	ElemFloat32
	ElemInt64
	ElemInt32
	ElemBool
)

func (e ElementKind) size() int {
	switch e {
	case ElemFloat64, ElemInt64:
		return 8
	case ElemFloat32, ElemInt32:
		return 4
	case ElemBool:
		return 1
	default:
		return 0
	}
}

// NDArray is a compact, self-describing numeric array: an element
// kind, a shape, and contiguous little-endian bytes in row-major
// order. Sub-objects (e.g. matrix strips inside a scatter list) are
// serialized by recursive application of the same rules.
type NDArray struct {
	Elem  ElementKind
	Shape []int
	Data  []byte
}

// count returns the number of elements implied by Shape.
func (a *NDArray) count() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// NewFloat64Array packs data (row-major, len(data) == product(shape))
// into an NDArray payload.
func NewFloat64Array(shape []int, data []float64) *NDArray {
	a := &NDArray{Elem: ElemFloat64, Shape: append([]int(nil), shape...)}
	a.Data = make([]byte, len(data)*8)
	for i, v := range data {
		binary.LittleEndian.PutUint64(a.Data[i*8:], math.Float64bits(v))
	}
	return a
}

// Float64s unpacks an NDArray of kind ElemFloat64 into a flat slice.
func (a *NDArray) Float64s() ([]float64, error) {
	if a.Elem != ElemFloat64 {
		return nil, fmt.Errorf("wire: array element kind %d is not float64", a.Elem)
	}
	n := a.count()
	if len(a.Data) != n*8 {
		return nil, fmt.Errorf("wire: array data length %d does not match shape %v", len(a.Data), a.Shape)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(a.Data[i*8:]))
	}
	return out, nil
}

// NewInt64Array packs data into an NDArray of kind ElemInt64.
func NewInt64Array(shape []int, data []int64) *NDArray {
	a := &NDArray{Elem: ElemInt64, Shape: append([]int(nil), shape...)}
	a.Data = make([]byte, len(data)*8)
	for i, v := range data {
		binary.LittleEndian.PutUint64(a.Data[i*8:], uint64(v))
	}
	return a
}

// Int64s unpacks an NDArray of kind ElemInt64 into a flat slice.
func (a *NDArray) Int64s() ([]int64, error) {
	if a.Elem != ElemInt64 {
		return nil, fmt.Errorf("wire: array element kind %d is not int64", a.Elem)
	}
	n := a.count()
	if len(a.Data) != n*8 {
		return nil, fmt.Errorf("wire: array data length %d does not match shape %v", len(a.Data), a.Shape)
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(a.Data[i*8:]))
	}
	return out, nil
}

// ArrayPayload wraps a as a PayloadArray.
func ArrayPayload(a *NDArray) Payload {
	return Payload{Kind: PayloadArray, Array: a}
}
