// Copyright 2025 The Cantor Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package dnn provides the public API for the deep-learning primitives
// contracts: tensor, filter and convolution descriptors, the device
// memory allocator, and the execution context every primitive call goes
// through. Contexts are explicit handles, never process-wide singletons.
package dnn

import (
	"github.com/cantor-asr/cantor/internal/dnn"
	"github.com/cantor-asr/cantor/internal/tensor"
)

// Context is the accelerator execution context.
type Context = dnn.Context

// Allocator hands out device memory for workspace buffers.
type Allocator = dnn.Allocator

// Buffer is an opaque handle to device memory.
type Buffer = dnn.Buffer

// TensorDesc describes a 5-D tensor shape and its memory strides.
type TensorDesc = dnn.TensorDesc

// FilterDesc describes the learned filter bank.
type FilterDesc = dnn.FilterDesc

// ConvDesc describes padding, stride, upscale and mode of a convolution.
type ConvDesc = dnn.ConvDesc

// ConvolutionMode distinguishes cross-correlation from true convolution.
type ConvolutionMode = dnn.ConvolutionMode

// Convolution modes.
const (
	CrossCorrelation = dnn.CrossCorrelation
	Convolution      = dnn.Convolution
)

// Algorithm selectors.
type (
	FwdAlgo       = dnn.FwdAlgo
	BwdDataAlgo   = dnn.BwdDataAlgo
	BwdFilterAlgo = dnn.BwdFilterAlgo
)

// Fixed algorithm choices.
const (
	FwdAlgoImplicitGEMM = dnn.FwdAlgoImplicitGEMM
	BwdDataAlgo0        = dnn.BwdDataAlgo0
	BwdFilterAlgo0      = dnn.BwdFilterAlgo0
)

// Errors returned by accelerator contexts.
var (
	ErrWorkspaceTooSmall = dnn.ErrWorkspaceTooSmall
	ErrForeignWorkspace  = dnn.ErrForeignWorkspace
	ErrUnsupportedMode   = dnn.ErrUnsupportedMode
	ErrUnsupportedAlgo   = dnn.ErrUnsupportedAlgo
	ErrShapeMismatch     = dnn.ErrShapeMismatch
	ErrShortBuffer       = dnn.ErrShortBuffer
)

// NewTensorDesc builds a tensor descriptor from dims and strides.
func NewTensorDesc(dims, strides [tensor.NumAxes]int) (*TensorDesc, error) {
	return dnn.NewTensorDesc(dims, strides)
}

// NewFilterDesc builds a filter descriptor.
func NewFilterDesc(outChannels, inChannels, filtX, filtY, filtZ int) (*FilterDesc, error) {
	return dnn.NewFilterDesc(outChannels, inChannels, filtX, filtY, filtZ)
}

// NewConvDesc builds a convolution descriptor.
func NewConvDesc(pad, stride, upscale [tensor.SpatialAxes]int, mode ConvolutionMode) (*ConvDesc, error) {
	return dnn.NewConvDesc(pad, stride, upscale, mode)
}
