package cpu

import (
	"fmt"

	"github.com/cantor-asr/cantor/internal/dnn"
	"github.com/cantor-asr/cantor/internal/tensor"
)

// TransformTensor computes y = alpha*x + beta*y between two layouts of the
// same shape. This is what reorders activations between element orderings:
// the two descriptors carry the same dims but different strides.
func (c *Context) TransformTensor(alpha float64, xDesc *dnn.TensorDesc, x []float64,
	beta float64, yDesc *dnn.TensorDesc, y []float64) error {

	dims := xDesc.Dims()
	if yDims := yDesc.Dims(); yDims != dims {
		return fmt.Errorf("cpu: transform between dims %v and %v: %w", dims, yDims, dnn.ErrShapeMismatch)
	}
	if err := checkTensorData("transform source", xDesc, x); err != nil {
		return err
	}
	if err := checkTensorData("transform destination", yDesc, y); err != nil {
		return err
	}

	xs, ys := xDesc.Strides(), yDesc.Strides()
	forEachCoord(dims, func(coord [tensor.NumAxes]int) {
		dst := tensor.Offset(coord, ys)
		y[dst] = alpha*x[tensor.Offset(coord, xs)] + beta*y[dst]
	})
	return nil
}

// AddTensor computes dst = alpha*src + beta*dst, broadcasting size-1 axes
// of src over dst. The bias add in forward propagation uses this with a
// [1, c, 1, 1, 1] source.
func (c *Context) AddTensor(alpha float64, srcDesc *dnn.TensorDesc, src []float64,
	beta float64, dstDesc *dnn.TensorDesc, dst []float64) error {

	srcDims := srcDesc.Dims()
	dstDims := dstDesc.Dims()
	for i := 0; i < tensor.NumAxes; i++ {
		if srcDims[i] != dstDims[i] && srcDims[i] != 1 {
			return fmt.Errorf("cpu: cannot broadcast source dims %v over %v: %w", srcDims, dstDims, dnn.ErrShapeMismatch)
		}
	}
	if err := checkTensorData("add source", srcDesc, src); err != nil {
		return err
	}
	if err := checkTensorData("add destination", dstDesc, dst); err != nil {
		return err
	}

	ss, ds := srcDesc.Strides(), dstDesc.Strides()
	forEachCoord(dstDims, func(coord [tensor.NumAxes]int) {
		sc := coord
		for i := 0; i < tensor.NumAxes; i++ {
			if srcDims[i] == 1 {
				sc[i] = 0
			}
		}
		off := tensor.Offset(coord, ds)
		dst[off] = alpha*src[tensor.Offset(sc, ss)] + beta*dst[off]
	})
	return nil
}

// forEachCoord visits every coordinate of a shape in canonical order.
func forEachCoord(dims [tensor.NumAxes]int, f func(coord [tensor.NumAxes]int)) {
	var c [tensor.NumAxes]int
	for c[0] = 0; c[0] < dims[0]; c[0]++ {
		for c[1] = 0; c[1] < dims[1]; c[1]++ {
			for c[2] = 0; c[2] < dims[2]; c[2]++ {
				for c[3] = 0; c[3] < dims[3]; c[3]++ {
					for c[4] = 0; c[4] < dims[4]; c[4]++ {
						f(c)
					}
				}
			}
		}
	}
}

// scaleTensor multiplies every addressable element of a strided tensor by
// beta. A beta of zero clears it outright so stale values never leak
// through.
func scaleTensor(beta float64, dims, strides [tensor.NumAxes]int, data []float64) {
	if beta == 1 {
		return
	}
	forEachCoord(dims, func(coord [tensor.NumAxes]int) {
		off := tensor.Offset(coord, strides)
		if beta == 0 {
			data[off] = 0
		} else {
			data[off] *= beta
		}
	})
}
