package domain

import (
	"reflect"
	"unsafe"
)

// Element is the set of element types a window can expose.
// Only fixed-size numeric kinds qualify, so that a window's memory can be addressed
// as raw bytes by any runtime.
type Element interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Descriptor describes the wire layout of an element type.
type Descriptor struct {
	// Layout names the encoding, e.g. "float64" or "int32". Values are stored in
	// the host's native byte order.
	Layout string `json:"layout"`
	// Size is the size of one element in bytes.
	Size int `json:"size"`
}

// DescriptorFor returns the descriptor of T. It is deterministic for the process lifetime.
func DescriptorFor[T Element]() Descriptor {
	var zero T
	return Descriptor{
		Layout: reflect.TypeOf(zero).Kind().String(),
		Size:   int(unsafe.Sizeof(zero)),
	}
}

// Bytes returns the raw byte view of buf. The view aliases buf.
func Bytes[T Element](buf []T) []byte {
	if len(buf) == 0 {
		return nil
	}
	size := int(unsafe.Sizeof(buf[0]))
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(buf))), len(buf)*size)
}

// Elements reinterprets raw bytes as a slice of T. len(b) must be a multiple of the
// element size; trailing bytes are ignored. The view aliases b.
func Elements[T Element](b []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	n := len(b) / size
	if n == 0 {
		return []T{}
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}
