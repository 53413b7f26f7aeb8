package dnn

import (
	"fmt"

	"github.com/cantor-asr/cantor/internal/tensor"
)

// ConvolutionMode distinguishes true (flipped-kernel) convolution from
// cross-correlation.
type ConvolutionMode int

const (
	// CrossCorrelation slides the unflipped kernel over the input. This is
	// the mode used by the convolution components.
	CrossCorrelation ConvolutionMode = iota
	// Convolution flips the kernel before sliding. Defined for
	// completeness; the bundled contexts reject it.
	Convolution
)

// String returns the mode name.
func (m ConvolutionMode) String() string {
	switch m {
	case CrossCorrelation:
		return "cross-correlation"
	case Convolution:
		return "convolution"
	default:
		return fmt.Sprintf("ConvolutionMode(%d)", int(m))
	}
}

// TensorDesc describes a 5-D tensor: its [batch, channels, x, y, z] shape
// and the per-axis memory strides of its backing buffer. Descriptors are
// immutable values; shape changes are expressed by building a new
// descriptor, never by mutating an existing one.
type TensorDesc struct {
	dims    [tensor.NumAxes]int
	strides [tensor.NumAxes]int
}

// NewTensorDesc builds a tensor descriptor. All dims must be positive and
// all strides nonnegative.
func NewTensorDesc(dims, strides [tensor.NumAxes]int) (*TensorDesc, error) {
	for i, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("dnn: tensor descriptor dim %d is %d, must be positive", i, d)
		}
	}
	for i, s := range strides {
		if s < 0 {
			return nil, fmt.Errorf("dnn: tensor descriptor stride %d is %d, must be nonnegative", i, s)
		}
	}
	return &TensorDesc{dims: dims, strides: strides}, nil
}

// Dims returns the descriptor's shape.
func (d *TensorDesc) Dims() [tensor.NumAxes]int { return d.dims }

// Strides returns the descriptor's per-axis strides.
func (d *TensorDesc) Strides() [tensor.NumAxes]int { return d.strides }

// NumElements returns the number of addressable elements.
func (d *TensorDesc) NumElements() int { return tensor.Volume(d.dims) }

// MinBufferLen returns the minimum backing-slice length a tensor with this
// descriptor can live in.
func (d *TensorDesc) MinBufferLen() int {
	n := 1
	for i := 0; i < tensor.NumAxes; i++ {
		n += (d.dims[i] - 1) * d.strides[i]
	}
	return n
}

// Clone returns an independent copy of the descriptor.
func (d *TensorDesc) Clone() *TensorDesc {
	c := *d
	return &c
}

// String formats the descriptor for diagnostics.
func (d *TensorDesc) String() string {
	return fmt.Sprintf("TensorDesc{dims: %v, strides: %v}", d.dims, d.strides)
}

// FilterDesc describes the learned filter bank:
// [output channels, input channels, fx, fy, fz], always laid out in
// canonical channel-major ordering. There is no alternate layout support
// for filters.
type FilterDesc struct {
	outChannels int
	inChannels  int
	dims        [tensor.SpatialAxes]int
}

// NewFilterDesc builds a filter descriptor.
func NewFilterDesc(outChannels, inChannels, filtX, filtY, filtZ int) (*FilterDesc, error) {
	if outChannels <= 0 || inChannels <= 0 {
		return nil, fmt.Errorf("dnn: filter descriptor needs positive channel counts, got out=%d in=%d", outChannels, inChannels)
	}
	if filtX <= 0 || filtY <= 0 || filtZ <= 0 {
		return nil, fmt.Errorf("dnn: filter descriptor needs positive filter dims, got (%d,%d,%d)", filtX, filtY, filtZ)
	}
	return &FilterDesc{
		outChannels: outChannels,
		inChannels:  inChannels,
		dims:        [tensor.SpatialAxes]int{filtX, filtY, filtZ},
	}, nil
}

// OutChannels returns the number of output channels (filters).
func (d *FilterDesc) OutChannels() int { return d.outChannels }

// InChannels returns the number of input channels per filter.
func (d *FilterDesc) InChannels() int { return d.inChannels }

// Dims returns the spatial filter dims (fx, fy, fz).
func (d *FilterDesc) Dims() [tensor.SpatialAxes]int { return d.dims }

// Volume returns the per-filter weight count: inChannels*fx*fy*fz.
func (d *FilterDesc) Volume() int {
	return d.inChannels * d.dims[0] * d.dims[1] * d.dims[2]
}

// NumWeights returns the total weight count across all filters.
func (d *FilterDesc) NumWeights() int { return d.outChannels * d.Volume() }

// Clone returns an independent copy of the descriptor.
func (d *FilterDesc) Clone() *FilterDesc {
	c := *d
	return &c
}

// String formats the descriptor for diagnostics.
func (d *FilterDesc) String() string {
	return fmt.Sprintf("FilterDesc{out: %d, in: %d, dims: %v}", d.outChannels, d.inChannels, d.dims)
}

// ConvDesc describes the convolution parameters: per-axis zero padding,
// filter stride (step), and upscale (dilation), plus the convolution mode.
type ConvDesc struct {
	pad     [tensor.SpatialAxes]int
	stride  [tensor.SpatialAxes]int
	upscale [tensor.SpatialAxes]int
	mode    ConvolutionMode
}

// NewConvDesc builds a convolution descriptor. Strides and upscales must
// be at least 1, padding nonnegative.
func NewConvDesc(pad, stride, upscale [tensor.SpatialAxes]int, mode ConvolutionMode) (*ConvDesc, error) {
	for i := 0; i < tensor.SpatialAxes; i++ {
		if pad[i] < 0 {
			return nil, fmt.Errorf("dnn: convolution padding %v must be nonnegative", pad)
		}
		if stride[i] < 1 {
			return nil, fmt.Errorf("dnn: convolution stride %v must be at least 1", stride)
		}
		if upscale[i] < 1 {
			return nil, fmt.Errorf("dnn: convolution upscale %v must be at least 1", upscale)
		}
	}
	if mode != CrossCorrelation && mode != Convolution {
		return nil, fmt.Errorf("dnn: unknown convolution mode %d", int(mode))
	}
	return &ConvDesc{pad: pad, stride: stride, upscale: upscale, mode: mode}, nil
}

// Pad returns the per-axis zero padding.
func (d *ConvDesc) Pad() [tensor.SpatialAxes]int { return d.pad }

// Stride returns the per-axis filter step.
func (d *ConvDesc) Stride() [tensor.SpatialAxes]int { return d.stride }

// Upscale returns the per-axis dilation.
func (d *ConvDesc) Upscale() [tensor.SpatialAxes]int { return d.upscale }

// Mode returns the convolution mode.
func (d *ConvDesc) Mode() ConvolutionMode { return d.mode }

// Clone returns an independent copy of the descriptor.
func (d *ConvDesc) Clone() *ConvDesc {
	c := *d
	return &c
}

// String formats the descriptor for diagnostics.
func (d *ConvDesc) String() string {
	return fmt.Sprintf("ConvDesc{pad: %v, stride: %v, upscale: %v, mode: %s}", d.pad, d.stride, d.upscale, d.mode)
}
