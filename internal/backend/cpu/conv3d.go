package cpu

import (
	"fmt"

	"github.com/cantor-asr/cantor/internal/dnn"
	"github.com/cantor-asr/cantor/internal/tensor"
)

// ConvolutionForward computes y = alpha*conv(x, w) + beta*y with the
// implicit-GEMM algorithm: the input is unrolled into the workspace as a
// filter.Volume() x outputPositions column matrix, then multiplied by the
// filter bank row by row.
func (c *Context) ConvolutionForward(alpha float64, inDesc *dnn.TensorDesc, x []float64,
	filterDesc *dnn.FilterDesc, w []float64, conv *dnn.ConvDesc, algo dnn.FwdAlgo,
	workspace dnn.Buffer, beta float64, outDesc *dnn.TensorDesc, y []float64) error {

	if algo != dnn.FwdAlgoImplicitGEMM {
		return fmt.Errorf("cpu: forward %w: %d", dnn.ErrUnsupportedAlgo, int(algo))
	}
	if err := c.checkConvShapes(conv, inDesc, filterDesc, outDesc); err != nil {
		return err
	}
	if err := checkTensorData("input", inDesc, x); err != nil {
		return err
	}
	if err := checkTensorData("output", outDesc, y); err != nil {
		return err
	}
	if len(w) < filterDesc.NumWeights() {
		return fmt.Errorf("cpu: filter buffer holds %d weights, descriptor needs %d: %w",
			len(w), filterDesc.NumWeights(), dnn.ErrShortBuffer)
	}

	need, err := c.ForwardWorkspaceSize(inDesc, filterDesc, conv, outDesc, algo)
	if err != nil {
		return err
	}
	col, err := float64Workspace(workspace)
	if err != nil {
		return err
	}
	if int64(len(col))*8 < need {
		return fmt.Errorf("cpu: forward needs %d workspace bytes, buffer has %d: %w",
			need, int64(len(col))*8, dnn.ErrWorkspaceTooSmall)
	}

	inDims, inStrides := inDesc.Dims(), inDesc.Strides()
	outDims, outStrides := outDesc.Dims(), outDesc.Strides()
	filt := filterDesc.Dims()
	pad, stride, upscale := conv.Pad(), conv.Stride(), conv.Upscale()

	volume := filterDesc.Volume()
	columns := outDims[0] * outDims[2] * outDims[3] * outDims[4]

	// Unroll: col[k*columns + m] is the k-th filter tap of output position m.
	m := 0
	for n := 0; n < outDims[0]; n++ {
		for ox := 0; ox < outDims[2]; ox++ {
			for oy := 0; oy < outDims[3]; oy++ {
				for oz := 0; oz < outDims[4]; oz++ {
					k := 0
					for ch := 0; ch < inDims[1]; ch++ {
						for di := 0; di < filt[0]; di++ {
							xi := ox*stride[0] - pad[0] + di*upscale[0]
							for dj := 0; dj < filt[1]; dj++ {
								yj := oy*stride[1] - pad[1] + dj*upscale[1]
								for dk := 0; dk < filt[2]; dk++ {
									zk := oz*stride[2] - pad[2] + dk*upscale[2]
									v := 0.0
									if xi >= 0 && xi < inDims[2] && yj >= 0 && yj < inDims[3] && zk >= 0 && zk < inDims[4] {
										v = x[tensor.Offset([tensor.NumAxes]int{n, ch, xi, yj, zk}, inStrides)]
									}
									col[k*columns+m] = v
									k++
								}
							}
						}
					}
					m++
				}
			}
		}
	}

	// Multiply: one filter row against every column, scattered through the
	// output strides.
	m = 0
	for n := 0; n < outDims[0]; n++ {
		for ox := 0; ox < outDims[2]; ox++ {
			for oy := 0; oy < outDims[3]; oy++ {
				for oz := 0; oz < outDims[4]; oz++ {
					for o := 0; o < outDims[1]; o++ {
						row := w[o*volume : (o+1)*volume]
						sum := 0.0
						for k, wk := range row {
							sum += wk * col[k*columns+m]
						}
						off := tensor.Offset([tensor.NumAxes]int{n, o, ox, oy, oz}, outStrides)
						y[off] = alpha*sum + beta*y[off]
					}
					m++
				}
			}
		}
	}
	return nil
}
