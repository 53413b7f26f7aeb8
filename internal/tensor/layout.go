// Package tensor defines the 5-D shape and memory-layout conventions shared
// by the convolution components and the accelerator contexts.
//
// Shapes are always ordered [batch, channels, x, y, z]. A layout (Order)
// does not change the shape array; it only determines the stride array,
// i.e. which axis varies fastest in the backing buffer.
package tensor

import "fmt"

// Axis count for the tensors handled here: batch, channels and three
// spatial axes.
const (
	NumAxes     = 5
	SpatialAxes = 3
)

// Order is a fixed element ordering over a [batch, channels, x, y, z] shape.
type Order int

const (
	// OrderNCXYZ is the canonical ordering: axes contiguous in declared
	// order, z varying fastest. Required by the backward-data primitive.
	OrderNCXYZ Order = iota
	// OrderNCXZY swaps the roles of y and z: y varies fastest.
	OrderNCXZY
	// OrderNXYZC is channel-last: channels have unit stride, batch the
	// largest stride, spatial axes ordered x, y, z between them. This is
	// the fixed ordering of forward-propagation outputs.
	OrderNXYZC
	// OrderNXZYC is channel-last with y and z swapped.
	OrderNXZYC
)

// String returns the ordering name.
func (o Order) String() string {
	switch o {
	case OrderNCXYZ:
		return "NCXYZ"
	case OrderNCXZY:
		return "NCXZY"
	case OrderNXYZC:
		return "NXYZC"
	case OrderNXZYC:
		return "NXZYC"
	default:
		return fmt.Sprintf("Order(%d)", int(o))
	}
}

// Strides returns the per-axis memory strides realizing the given ordering
// for a [batch, channels, x, y, z] shape. The stride array is positional:
// strides[i] is the element offset between successive coordinates along
// shape axis i, regardless of where axis i sits in the ordering.
func Strides(o Order, shape [NumAxes]int) [NumAxes]int {
	var s [NumAxes]int
	switch o {
	case OrderNCXYZ:
		s[4] = 1
		s[3] = shape[4]
		s[2] = shape[3] * shape[4]
		s[1] = shape[2] * shape[3] * shape[4]
		s[0] = shape[1] * shape[2] * shape[3] * shape[4]
	case OrderNCXZY:
		s[3] = 1
		s[4] = shape[3]
		s[2] = shape[3] * shape[4]
		s[1] = shape[2] * shape[3] * shape[4]
		s[0] = shape[1] * shape[2] * shape[3] * shape[4]
	case OrderNXYZC:
		s[1] = 1
		s[4] = shape[1]
		s[3] = shape[1] * shape[4]
		s[2] = shape[1] * shape[3] * shape[4]
		s[0] = shape[1] * shape[2] * shape[3] * shape[4]
	case OrderNXZYC:
		s[1] = 1
		s[3] = shape[1]
		s[4] = shape[1] * shape[3]
		s[2] = shape[1] * shape[3] * shape[4]
		s[0] = shape[1] * shape[2] * shape[3] * shape[4]
	default:
		panic(fmt.Sprintf("tensor: unknown element ordering %d", int(o)))
	}
	return s
}

// Volume returns the total number of elements in the shape.
func Volume(shape [NumAxes]int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Offset returns the flat element offset of a coordinate under the given
// strides.
func Offset(coord, strides [NumAxes]int) int {
	off := 0
	for i := 0; i < NumAxes; i++ {
		off += coord[i] * strides[i]
	}
	return off
}

// Vectorization is the user-selectable input layout tag. It names the
// order in which the spatial axes of one input frame are flattened into a
// row of the activation matrix, slowest axis first.
type Vectorization int

const (
	// VectorizeZYX flattens with z varying fastest (canonical NCXYZ strides).
	VectorizeZYX Vectorization = iota
	// VectorizeYZX flattens with y varying fastest (NCXZY strides).
	VectorizeYZX
)

// ParseVectorization converts a configuration string to a layout tag.
// Accepted values are "zyx" and "yzx".
func ParseVectorization(s string) (Vectorization, error) {
	switch s {
	case "zyx":
		return VectorizeZYX, nil
	case "yzx":
		return VectorizeYZX, nil
	default:
		return 0, fmt.Errorf("tensor: unknown or unsupported input vectorization order %q, accepted candidates are 'yzx' and 'zyx'", s)
	}
}

// VectorizationFromInt converts a serialized tag value back to a
// Vectorization.
func VectorizationFromInt(v int) (Vectorization, error) {
	switch Vectorization(v) {
	case VectorizeZYX, VectorizeYZX:
		return Vectorization(v), nil
	default:
		return 0, fmt.Errorf("tensor: invalid serialized vectorization tag %d", v)
	}
}

// String returns the configuration spelling of the tag.
func (v Vectorization) String() string {
	switch v {
	case VectorizeZYX:
		return "zyx"
	case VectorizeYZX:
		return "yzx"
	default:
		return fmt.Sprintf("Vectorization(%d)", int(v))
	}
}

// InputOrder returns the element ordering realizing this vectorization for
// input activation tensors.
func (v Vectorization) InputOrder() Order {
	switch v {
	case VectorizeZYX:
		return OrderNCXYZ
	case VectorizeYZX:
		return OrderNCXZY
	default:
		panic(fmt.Sprintf("tensor: unknown or unsupported input vectorization order %d", int(v)))
	}
}
