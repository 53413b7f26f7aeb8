// Copyright 2025 The Cantor Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for the 5-D shape and
// memory-layout conventions shared by components and accelerator
// contexts. Shapes are always ordered [batch, channels, x, y, z].
package tensor

import "github.com/cantor-asr/cantor/internal/tensor"

// Axis counts.
const (
	NumAxes     = tensor.NumAxes
	SpatialAxes = tensor.SpatialAxes
)

// Order is a fixed element ordering over a [batch, channels, x, y, z]
// shape.
type Order = tensor.Order

// Supported element orderings.
const (
	OrderNCXYZ = tensor.OrderNCXYZ
	OrderNCXZY = tensor.OrderNCXZY
	OrderNXYZC = tensor.OrderNXYZC
	OrderNXZYC = tensor.OrderNXZYC
)

// Vectorization is the user-selectable input layout tag.
type Vectorization = tensor.Vectorization

// Supported vectorization orders.
const (
	VectorizeZYX = tensor.VectorizeZYX
	VectorizeYZX = tensor.VectorizeYZX
)

// Strides returns the per-axis memory strides realizing an ordering for
// a shape.
func Strides(o Order, shape [NumAxes]int) [NumAxes]int {
	return tensor.Strides(o, shape)
}

// Volume returns the total number of elements in a shape.
func Volume(shape [NumAxes]int) int { return tensor.Volume(shape) }

// Offset returns the flat element offset of a coordinate under strides.
func Offset(coord, strides [NumAxes]int) int { return tensor.Offset(coord, strides) }

// ParseVectorization converts "zyx" or "yzx" to a layout tag.
func ParseVectorization(s string) (Vectorization, error) {
	return tensor.ParseVectorization(s)
}
