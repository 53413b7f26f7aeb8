// Copyright 2025 The Cantor Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the public API for neural-network layer components.
//
// Components exchange activations as gonum dense matrices with one row
// per batch element and one densely packed column per tensor element.
// Heavy computation runs through an explicitly supplied dnn.Context, so
// the same component code drives the CPU reference context or a GPU one.
//
// Example:
//
//	ctx := cpu.New()
//	conv, err := nn.NewConv3DFromConfig(ctx,
//		"input-x-dim=8 input-y-dim=8 input-z-dim=8 "+
//			"filt-x-dim=3 filt-y-dim=3 filt-z-dim=3 "+
//			"filt-x-step=1 filt-y-step=1 filt-z-step=1 num-filters=4")
//	if err != nil {
//		log.Fatal(err)
//	}
//	out := mat.NewDense(batch, conv.OutputDim(), nil)
//	conv.Propagate(in, out)
package nn

import (
	"gonum.org/v1/gonum/mat"

	"github.com/cantor-asr/cantor/internal/dnn"
	"github.com/cantor-asr/cantor/internal/nn"
	"github.com/cantor-asr/cantor/internal/serialization"
)

// Component is one interchangeable network layer.
type Component = nn.Component

// Updatable is a component with learned parameters.
type Updatable = nn.Updatable

// Conv3D is a 3-D convolutional layer.
type Conv3D = nn.Conv3D

// Conv3DConfig carries the Conv3D constructor geometry.
type Conv3DConfig = nn.Conv3DConfig

// Conv3DType is the type tag of Conv3D components.
const Conv3DType = nn.Conv3DType

// NewConv3D builds a Conv3D with randomly initialized parameters.
func NewConv3D(ctx dnn.Context, cfg Conv3DConfig, paramStddev, biasStddev float64) (*Conv3D, error) {
	return nn.NewConv3D(ctx, cfg, paramStddev, biasStddev)
}

// NewConv3DFromMatrix builds a Conv3D from a predefined parameter matrix:
// one row per output filter, filter weights followed by the bias.
func NewConv3DFromMatrix(ctx dnn.Context, cfg Conv3DConfig, params *mat.Dense) (*Conv3D, error) {
	return nn.NewConv3DFromMatrix(ctx, cfg, params)
}

// NewConv3DFromConfig builds a Conv3D from a key=value configuration line.
func NewConv3DFromConfig(ctx dnn.Context, line string) (*Conv3D, error) {
	return nn.NewConv3DFromConfig(ctx, line)
}

// ReadConv3D restores a Conv3D from a serialized token stream.
func ReadConv3D(ctx dnn.Context, r *serialization.Reader) (*Conv3D, error) {
	return nn.ReadConv3D(ctx, r)
}
