// Package cpu provides the reference accelerator context. It implements
// every primitive of the dnn.Context contract with plain float64 loops so
// the convolution components can run, and be tested, without a GPU.
package cpu

import (
	"fmt"

	"github.com/cantor-asr/cantor/internal/dnn"
	"github.com/cantor-asr/cantor/internal/tensor"
)

// Context is the CPU accelerator context. The zero value is not usable;
// construct one with New. A Context is safe for concurrent use: it holds
// no mutable state of its own.
type Context struct {
	alloc hostAllocator
}

var _ dnn.Context = (*Context)(nil)

// New returns a ready CPU context.
func New() *Context {
	return &Context{}
}

// Name identifies the context implementation.
func (c *Context) Name() string { return "cpu" }

// Allocator returns the host memory allocator paired with this context.
func (c *Context) Allocator() dnn.Allocator { return &c.alloc }

// hostBuffer is a workspace buffer backed by a host float64 slice.
type hostBuffer struct {
	data []float64
}

// Size returns the buffer capacity in bytes.
func (b *hostBuffer) Size() int64 { return int64(len(b.data)) * 8 }

// hostAllocator allocates host buffers. Freeing is a no-op; the garbage
// collector reclaims the backing slices.
type hostAllocator struct{}

func (hostAllocator) Allocate(bytes int64) (dnn.Buffer, error) {
	if bytes < 0 {
		return nil, fmt.Errorf("cpu: cannot allocate %d bytes", bytes)
	}
	return &hostBuffer{data: make([]float64, (bytes+7)/8)}, nil
}

func (hostAllocator) Free(b dnn.Buffer) {}

// float64Workspace unwraps a workspace buffer into its backing slice.
func float64Workspace(b dnn.Buffer) ([]float64, error) {
	if b == nil {
		return nil, nil
	}
	hb, ok := b.(*hostBuffer)
	if !ok {
		return nil, fmt.Errorf("cpu: %w (got %T)", dnn.ErrForeignWorkspace, b)
	}
	return hb.data, nil
}

// ForwardOutputDims infers the output shape of a forward convolution:
// out = 1 + (in + 2*pad - ((filt-1)*upscale + 1)) / stride per spatial
// axis, batch carried through, channels set to the filter count.
func (c *Context) ForwardOutputDims(conv *dnn.ConvDesc, in *dnn.TensorDesc, filter *dnn.FilterDesc) ([tensor.NumAxes]int, error) {
	inDims := in.Dims()
	if inDims[1] != filter.InChannels() {
		return [tensor.NumAxes]int{}, fmt.Errorf("cpu: input has %d channels but filter expects %d: %w",
			inDims[1], filter.InChannels(), dnn.ErrShapeMismatch)
	}
	pad, stride, upscale := conv.Pad(), conv.Stride(), conv.Upscale()
	filt := filter.Dims()
	var out [tensor.NumAxes]int
	out[0] = inDims[0]
	out[1] = filter.OutChannels()
	for i := 0; i < tensor.SpatialAxes; i++ {
		span := inDims[2+i] + 2*pad[i] - ((filt[i]-1)*upscale[i] + 1)
		if span < 0 {
			return [tensor.NumAxes]int{}, fmt.Errorf("cpu: filter dim %d does not fit input dim %d with padding %d: %w",
				filt[i], inDims[2+i], pad[i], dnn.ErrShapeMismatch)
		}
		out[2+i] = 1 + span/stride[i]
	}
	return out, nil
}

// ForwardWorkspaceSize returns the workspace bytes needed by the forward
// algorithm. The implicit-GEMM algorithm stages an unrolled copy of the
// input in the workspace: one column of filter.Volume() values per output
// position.
func (c *Context) ForwardWorkspaceSize(in *dnn.TensorDesc, filter *dnn.FilterDesc, conv *dnn.ConvDesc, out *dnn.TensorDesc, algo dnn.FwdAlgo) (int64, error) {
	if algo != dnn.FwdAlgoImplicitGEMM {
		return 0, fmt.Errorf("cpu: forward %w: %d", dnn.ErrUnsupportedAlgo, int(algo))
	}
	outDims := out.Dims()
	columns := outDims[0] * outDims[2] * outDims[3] * outDims[4]
	return int64(filter.Volume()) * int64(columns) * 8, nil
}

// BackwardDataWorkspaceSize returns the workspace bytes needed by the
// backward-data algorithm. The direct algorithm needs none.
func (c *Context) BackwardDataWorkspaceSize(filter *dnn.FilterDesc, outDeriv *dnn.TensorDesc, conv *dnn.ConvDesc, inDeriv *dnn.TensorDesc, algo dnn.BwdDataAlgo) (int64, error) {
	if algo != dnn.BwdDataAlgo0 {
		return 0, fmt.Errorf("cpu: backward-data %w: %d", dnn.ErrUnsupportedAlgo, int(algo))
	}
	return 0, nil
}

// BackwardFilterWorkspaceSize returns the workspace bytes needed by the
// backward-filter algorithm. The direct algorithm needs none.
func (c *Context) BackwardFilterWorkspaceSize(in *dnn.TensorDesc, outDeriv *dnn.TensorDesc, conv *dnn.ConvDesc, filter *dnn.FilterDesc, algo dnn.BwdFilterAlgo) (int64, error) {
	if algo != dnn.BwdFilterAlgo0 {
		return 0, fmt.Errorf("cpu: backward-filter %w: %d", dnn.ErrUnsupportedAlgo, int(algo))
	}
	return 0, nil
}

// checkTensorData verifies that data can hold a tensor with the given
// descriptor.
func checkTensorData(what string, desc *dnn.TensorDesc, data []float64) error {
	if need := desc.MinBufferLen(); len(data) < need {
		return fmt.Errorf("cpu: %s buffer holds %d elements, descriptor needs %d: %w",
			what, len(data), need, dnn.ErrShortBuffer)
	}
	return nil
}

// checkConvShapes verifies that input, filter and output descriptors agree
// with the convolution geometry.
func (c *Context) checkConvShapes(conv *dnn.ConvDesc, in *dnn.TensorDesc, filter *dnn.FilterDesc, out *dnn.TensorDesc) error {
	if conv.Mode() != dnn.CrossCorrelation {
		return fmt.Errorf("cpu: %w: %s", dnn.ErrUnsupportedMode, conv.Mode())
	}
	want, err := c.ForwardOutputDims(conv, in, filter)
	if err != nil {
		return err
	}
	if got := out.Dims(); got != want {
		return fmt.Errorf("cpu: output dims %v do not match inferred dims %v: %w", got, want, dnn.ErrShapeMismatch)
	}
	return nil
}
