// Package dnn defines the contracts of the deep-learning primitives
// accelerator consumed by the convolution components: descriptor values,
// the device memory allocator, and the execution context through which
// every primitive call is issued.
//
// The context is an explicit handle threaded through every call rather
// than a process-wide singleton, so tests can run multiple independent
// contexts side by side.
package dnn

// Algorithm selectors. The components pin these to fixed choices instead
// of asking the accelerator to pick one.
type (
	// FwdAlgo selects the forward-convolution algorithm.
	FwdAlgo int
	// BwdDataAlgo selects the backward-data algorithm.
	BwdDataAlgo int
	// BwdFilterAlgo selects the backward-filter algorithm.
	BwdFilterAlgo int
)

const (
	// FwdAlgoImplicitGEMM lowers the convolution to a matrix product over
	// an unrolled input, staged through the workspace buffer.
	FwdAlgoImplicitGEMM FwdAlgo = iota
)

const (
	// BwdDataAlgo0 is the direct (non-workspace) backward-data algorithm.
	BwdDataAlgo0 BwdDataAlgo = iota
)

const (
	// BwdFilterAlgo0 is the direct (non-workspace) backward-filter
	// algorithm.
	BwdFilterAlgo0 BwdFilterAlgo = iota
)

// Buffer is an opaque handle to device memory obtained from an Allocator.
type Buffer interface {
	// Size returns the capacity of the buffer in bytes.
	Size() int64
}

// Allocator hands out device memory for workspace buffers.
type Allocator interface {
	// Allocate returns a buffer of at least the given byte size.
	Allocate(bytes int64) (Buffer, error)
	// Free returns a buffer to the allocator. The buffer must not be used
	// afterwards.
	Free(b Buffer)
}

// Context is the accelerator execution context. All primitive calls are
// synchronous: they return only once the operation has completed. Every
// method reports failure through its error result; callers in the
// component layer treat any failure as fatal.
//
// Data arguments are float64 slices laid out according to their
// descriptors. The alpha/beta scaling convention follows the usual
// primitives-library contract: dst = alpha*op(...) + beta*dst.
type Context interface {
	// Name identifies the context implementation for diagnostics.
	Name() string

	// Allocator returns the device memory allocator paired with this
	// context. Workspace buffers passed to primitives must come from it.
	Allocator() Allocator

	// ForwardOutputDims infers the full output shape of a forward
	// convolution for the given input, filter and convolution
	// descriptors.
	ForwardOutputDims(conv *ConvDesc, in *TensorDesc, filter *FilterDesc) ([5]int, error)

	// ForwardWorkspaceSize returns the workspace bytes required by the
	// given forward algorithm for these descriptors.
	ForwardWorkspaceSize(in *TensorDesc, filter *FilterDesc, conv *ConvDesc, out *TensorDesc, algo FwdAlgo) (int64, error)

	// BackwardDataWorkspaceSize returns the workspace bytes required by
	// the given backward-data algorithm.
	BackwardDataWorkspaceSize(filter *FilterDesc, outDeriv *TensorDesc, conv *ConvDesc, inDeriv *TensorDesc, algo BwdDataAlgo) (int64, error)

	// BackwardFilterWorkspaceSize returns the workspace bytes required by
	// the given backward-filter algorithm.
	BackwardFilterWorkspaceSize(in *TensorDesc, outDeriv *TensorDesc, conv *ConvDesc, filter *FilterDesc, algo BwdFilterAlgo) (int64, error)

	// ConvolutionForward computes y = alpha*conv(x, w) + beta*y.
	ConvolutionForward(alpha float64, inDesc *TensorDesc, x []float64,
		filterDesc *FilterDesc, w []float64, conv *ConvDesc, algo FwdAlgo,
		workspace Buffer, beta float64, outDesc *TensorDesc, y []float64) error

	// ConvolutionBackwardData computes dx = alpha*conv_bwd_data(w, dy) + beta*dx.
	// The outDeriv descriptor must use the canonical NCXYZ ordering.
	ConvolutionBackwardData(alpha float64, filterDesc *FilterDesc, w []float64,
		outDerivDesc *TensorDesc, dy []float64, conv *ConvDesc, algo BwdDataAlgo,
		workspace Buffer, beta float64, inDerivDesc *TensorDesc, dx []float64) error

	// ConvolutionBackwardFilter computes dw = alpha*conv_bwd_filter(x, dy) + beta*dw.
	// The outDeriv descriptor must use the canonical NCXYZ ordering.
	ConvolutionBackwardFilter(alpha float64, inDesc *TensorDesc, x []float64,
		outDerivDesc *TensorDesc, dy []float64, conv *ConvDesc, algo BwdFilterAlgo,
		workspace Buffer, beta float64, filterDesc *FilterDesc, dw []float64) error

	// ConvolutionBackwardBias computes db = alpha*sum(dy over batch and
	// spatial axes) + beta*db.
	ConvolutionBackwardBias(alpha float64, outDerivDesc *TensorDesc, dy []float64,
		beta float64, biasDesc *TensorDesc, db []float64) error

	// TransformTensor computes y = alpha*x + beta*y between two layouts of
	// the same shape.
	TransformTensor(alpha float64, xDesc *TensorDesc, x []float64,
		beta float64, yDesc *TensorDesc, y []float64) error

	// AddTensor computes c = alpha*a + beta*c, broadcasting size-1 axes of
	// a over c.
	AddTensor(alpha float64, aDesc *TensorDesc, a []float64,
		beta float64, cDesc *TensorDesc, c []float64) error
}
