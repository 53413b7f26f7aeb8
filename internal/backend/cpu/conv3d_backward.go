package cpu

import (
	"fmt"

	"github.com/cantor-asr/cantor/internal/dnn"
	"github.com/cantor-asr/cantor/internal/tensor"
)

// ConvolutionBackwardData computes dx = alpha*conv_bwd_data(w, dy) + beta*dx
// with a direct scatter: every output-derivative element pushes its
// contribution back through each filter tap.
func (c *Context) ConvolutionBackwardData(alpha float64, filterDesc *dnn.FilterDesc, w []float64,
	outDerivDesc *dnn.TensorDesc, dy []float64, conv *dnn.ConvDesc, algo dnn.BwdDataAlgo,
	workspace dnn.Buffer, beta float64, inDerivDesc *dnn.TensorDesc, dx []float64) error {

	if algo != dnn.BwdDataAlgo0 {
		return fmt.Errorf("cpu: backward-data %w: %d", dnn.ErrUnsupportedAlgo, int(algo))
	}
	if err := c.checkConvShapes(conv, inDerivDesc, filterDesc, outDerivDesc); err != nil {
		return err
	}
	if err := checkTensorData("output derivative", outDerivDesc, dy); err != nil {
		return err
	}
	if err := checkTensorData("input derivative", inDerivDesc, dx); err != nil {
		return err
	}
	if len(w) < filterDesc.NumWeights() {
		return fmt.Errorf("cpu: filter buffer holds %d weights, descriptor needs %d: %w",
			len(w), filterDesc.NumWeights(), dnn.ErrShortBuffer)
	}
	if _, err := float64Workspace(workspace); err != nil {
		return err
	}

	inDims, inStrides := inDerivDesc.Dims(), inDerivDesc.Strides()
	outDims, outStrides := outDerivDesc.Dims(), outDerivDesc.Strides()
	filt := filterDesc.Dims()
	pad, stride, upscale := conv.Pad(), conv.Stride(), conv.Upscale()
	volume := filterDesc.Volume()

	scaleTensor(beta, inDims, inStrides, dx)

	for n := 0; n < outDims[0]; n++ {
		for o := 0; o < outDims[1]; o++ {
			row := w[o*volume : (o+1)*volume]
			for ox := 0; ox < outDims[2]; ox++ {
				for oy := 0; oy < outDims[3]; oy++ {
					for oz := 0; oz < outDims[4]; oz++ {
						g := alpha * dy[tensor.Offset([tensor.NumAxes]int{n, o, ox, oy, oz}, outStrides)]
						if g == 0 {
							continue
						}
						k := 0
						for ch := 0; ch < inDims[1]; ch++ {
							for di := 0; di < filt[0]; di++ {
								xi := ox*stride[0] - pad[0] + di*upscale[0]
								for dj := 0; dj < filt[1]; dj++ {
									yj := oy*stride[1] - pad[1] + dj*upscale[1]
									for dk := 0; dk < filt[2]; dk++ {
										zk := oz*stride[2] - pad[2] + dk*upscale[2]
										if xi >= 0 && xi < inDims[2] && yj >= 0 && yj < inDims[3] && zk >= 0 && zk < inDims[4] {
											dx[tensor.Offset([tensor.NumAxes]int{n, ch, xi, yj, zk}, inStrides)] += g * row[k]
										}
										k++
									}
								}
							}
						}
					}
				}
			}
		}
	}
	return nil
}

// ConvolutionBackwardFilter computes dw = alpha*conv_bwd_filter(x, dy) + beta*dw.
func (c *Context) ConvolutionBackwardFilter(alpha float64, inDesc *dnn.TensorDesc, x []float64,
	outDerivDesc *dnn.TensorDesc, dy []float64, conv *dnn.ConvDesc, algo dnn.BwdFilterAlgo,
	workspace dnn.Buffer, beta float64, filterDesc *dnn.FilterDesc, dw []float64) error {

	if algo != dnn.BwdFilterAlgo0 {
		return fmt.Errorf("cpu: backward-filter %w: %d", dnn.ErrUnsupportedAlgo, int(algo))
	}
	if err := c.checkConvShapes(conv, inDesc, filterDesc, outDerivDesc); err != nil {
		return err
	}
	if err := checkTensorData("input", inDesc, x); err != nil {
		return err
	}
	if err := checkTensorData("output derivative", outDerivDesc, dy); err != nil {
		return err
	}
	if len(dw) < filterDesc.NumWeights() {
		return fmt.Errorf("cpu: filter derivative buffer holds %d weights, descriptor needs %d: %w",
			len(dw), filterDesc.NumWeights(), dnn.ErrShortBuffer)
	}
	if _, err := float64Workspace(workspace); err != nil {
		return err
	}

	inDims, inStrides := inDesc.Dims(), inDesc.Strides()
	outDims, outStrides := outDerivDesc.Dims(), outDerivDesc.Strides()
	filt := filterDesc.Dims()
	pad, stride, upscale := conv.Pad(), conv.Stride(), conv.Upscale()
	volume := filterDesc.Volume()

	for i := 0; i < filterDesc.NumWeights(); i++ {
		dw[i] *= beta
	}

	for n := 0; n < outDims[0]; n++ {
		for o := 0; o < outDims[1]; o++ {
			grad := dw[o*volume : (o+1)*volume]
			for ox := 0; ox < outDims[2]; ox++ {
				for oy := 0; oy < outDims[3]; oy++ {
					for oz := 0; oz < outDims[4]; oz++ {
						g := alpha * dy[tensor.Offset([tensor.NumAxes]int{n, o, ox, oy, oz}, outStrides)]
						if g == 0 {
							continue
						}
						k := 0
						for ch := 0; ch < inDims[1]; ch++ {
							for di := 0; di < filt[0]; di++ {
								xi := ox*stride[0] - pad[0] + di*upscale[0]
								for dj := 0; dj < filt[1]; dj++ {
									yj := oy*stride[1] - pad[1] + dj*upscale[1]
									for dk := 0; dk < filt[2]; dk++ {
										zk := oz*stride[2] - pad[2] + dk*upscale[2]
										if xi >= 0 && xi < inDims[2] && yj >= 0 && yj < inDims[3] && zk >= 0 && zk < inDims[4] {
											grad[k] += g * x[tensor.Offset([tensor.NumAxes]int{n, ch, xi, yj, zk}, inStrides)]
										}
										k++
									}
								}
							}
						}
					}
				}
			}
		}
	}
	return nil
}

// ConvolutionBackwardBias computes db = alpha*sum(dy over batch and spatial
// axes) + beta*db. The bias descriptor must have shape [1, channels, 1, 1, 1]
// matching the output-derivative channel count.
func (c *Context) ConvolutionBackwardBias(alpha float64, outDerivDesc *dnn.TensorDesc, dy []float64,
	beta float64, biasDesc *dnn.TensorDesc, db []float64) error {

	outDims, outStrides := outDerivDesc.Dims(), outDerivDesc.Strides()
	biasDims, biasStrides := biasDesc.Dims(), biasDesc.Strides()
	if biasDims[0] != 1 || biasDims[2] != 1 || biasDims[3] != 1 || biasDims[4] != 1 {
		return fmt.Errorf("cpu: bias descriptor %v must be [1, c, 1, 1, 1]: %w", biasDims, dnn.ErrShapeMismatch)
	}
	if biasDims[1] != outDims[1] {
		return fmt.Errorf("cpu: bias has %d channels but output derivative has %d: %w",
			biasDims[1], outDims[1], dnn.ErrShapeMismatch)
	}
	if err := checkTensorData("output derivative", outDerivDesc, dy); err != nil {
		return err
	}
	if err := checkTensorData("bias derivative", biasDesc, db); err != nil {
		return err
	}

	for o := 0; o < outDims[1]; o++ {
		sum := 0.0
		for n := 0; n < outDims[0]; n++ {
			for ox := 0; ox < outDims[2]; ox++ {
				for oy := 0; oy < outDims[3]; oy++ {
					for oz := 0; oz < outDims[4]; oz++ {
						sum += dy[tensor.Offset([tensor.NumAxes]int{n, o, ox, oy, oz}, outStrides)]
					}
				}
			}
		}
		off := o * biasStrides[1]
		db[off] = alpha*sum + beta*db[off]
	}
	return nil
}
