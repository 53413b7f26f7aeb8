package nn

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cantor-asr/cantor/internal/config"
	"github.com/cantor-asr/cantor/internal/dnn"
	"github.com/cantor-asr/cantor/internal/serialization"
	"github.com/cantor-asr/cantor/internal/tensor"
)

// Conv3DType is the type tag of the 3-D convolution component.
const Conv3DType = "Conv3DComponent"

const defaultLearningRate = 0.001

// Stream tokens, in the exact order Write emits them.
const (
	tokConv3DOpen      = "<Conv3DComponent>"
	tokConv3DClose     = "</Conv3DComponent>"
	tokLearningRate    = "<LearningRate>"
	tokInputXDim       = "<InputXDim>"
	tokInputYDim       = "<InputYDim>"
	tokInputZDim       = "<InputZDim>"
	tokInputNumFilters = "<InputNumFilters>"
	tokOutputNumFilt   = "<OutputNumFilters>"
	tokFilterXDim      = "<FilterXDim>"
	tokFilterYDim      = "<FilterYDim>"
	tokFilterZDim      = "<FilterZDim>"
	tokFilterXPadding  = "<FilterXPadding>"
	tokFilterYPadding  = "<FilterYPadding>"
	tokFilterZPadding  = "<FilterZPadding>"
	tokFilterXStride   = "<FilterXStride>"
	tokFilterYStride   = "<FilterYStride>"
	tokFilterZStride   = "<FilterZStride>"
	tokFilterXUpscale  = "<FilterXUpscale>"
	tokFilterYUpscale  = "<FilterYUpscale>"
	tokFilterZUpscale  = "<FilterZUpscale>"
	tokInputVector     = "<InputVectorization>"
	tokFilterParams    = "<FilterParams>"
	tokBiasParams      = "<BiasParams>"
	tokIsGradient      = "<IsGradient>"
)

// Conv3D is a 3-D convolutional layer. Each input row is a
// [channels, x, y, z] tensor flattened according to the configured
// vectorization order; each output row is a [filters, x', y', z'] tensor
// in channel-last order.
//
// The component owns its filter and bias parameters, its three
// descriptors and a lazily grown device workspace buffer. Copies share
// nothing.
type Conv3D struct {
	ctx dnn.Context

	inputX, inputY, inputZ int
	inputNumFilters        int
	numFilters             int

	// numFilters x (inputNumFilters*fx*fy*fz), row-major.
	filterParams *mat.Dense
	// One bias per output filter.
	biasParams *mat.VecDense

	vectorization tensor.Vectorization
	learningRate  float64
	isGradient    bool

	filterDesc *dnn.FilterDesc
	biasDesc   *dnn.TensorDesc
	convDesc   *dnn.ConvDesc

	workspace      dnn.Buffer
	workspaceBytes int64

	fwdAlgo       dnn.FwdAlgo
	bwdDataAlgo   dnn.BwdDataAlgo
	bwdFilterAlgo dnn.BwdFilterAlgo
}

var (
	_ Component = (*Conv3D)(nil)
	_ Updatable = (*Conv3D)(nil)
)

// Conv3DConfig carries the constructor geometry. The zero value is not
// valid; all dims and steps are required.
type Conv3DConfig struct {
	InputXDim, InputYDim, InputZDim int
	// Input channel count, 1 if the input has no channel axis.
	InputNumFilters              int
	FiltXDim, FiltYDim, FiltZDim int
	// Filter step per axis (the convolution stride).
	FiltXStep, FiltYStep, FiltZStep int
	PadXDim, PadYDim, PadZDim       int
	// Output repetition per axis (dilation), normally 1.
	UpscaleXDim, UpscaleYDim, UpscaleZDim int
	// Output filter count. Ignored when initializing from a parameter
	// matrix, which determines it.
	NumFilters    int
	Vectorization tensor.Vectorization
	// Update scale applied by Backprop's parameter-gradient path. Zero
	// freezes the parameters. The config-line constructor defaults it to
	// 0.001 when the key is absent.
	LearningRate float64
}

func (cfg *Conv3DConfig) validate() error {
	if cfg.InputXDim <= 0 || cfg.InputYDim <= 0 || cfg.InputZDim <= 0 {
		return fmt.Errorf("nn: input dims (%d,%d,%d) must be positive",
			cfg.InputXDim, cfg.InputYDim, cfg.InputZDim)
	}
	if cfg.InputNumFilters <= 0 {
		return fmt.Errorf("nn: input-num-filters %d must be positive", cfg.InputNumFilters)
	}
	if cfg.FiltXDim <= 0 || cfg.FiltYDim <= 0 || cfg.FiltZDim <= 0 {
		return fmt.Errorf("nn: filter dims (%d,%d,%d) must be positive",
			cfg.FiltXDim, cfg.FiltYDim, cfg.FiltZDim)
	}
	if cfg.FiltXStep <= 0 || cfg.FiltYStep <= 0 || cfg.FiltZStep <= 0 {
		return fmt.Errorf("nn: filter steps (%d,%d,%d) must be positive",
			cfg.FiltXStep, cfg.FiltYStep, cfg.FiltZStep)
	}
	if cfg.PadXDim < 0 || cfg.PadYDim < 0 || cfg.PadZDim < 0 {
		return fmt.Errorf("nn: padding (%d,%d,%d) must be nonnegative",
			cfg.PadXDim, cfg.PadYDim, cfg.PadZDim)
	}
	if cfg.UpscaleXDim <= 0 || cfg.UpscaleYDim <= 0 || cfg.UpscaleZDim <= 0 {
		return fmt.Errorf("nn: upscales (%d,%d,%d) must be positive",
			cfg.UpscaleXDim, cfg.UpscaleYDim, cfg.UpscaleZDim)
	}
	return nil
}

func (cfg *Conv3DConfig) filterVolume() int {
	return cfg.InputNumFilters * cfg.FiltXDim * cfg.FiltYDim * cfg.FiltZDim
}

// NewConv3D builds a component with randomly initialized parameters:
// independent standard-normal values scaled by paramStddev for the
// filters and biasStddev for the biases. Both spreads must be
// nonnegative.
func NewConv3D(ctx dnn.Context, cfg Conv3DConfig, paramStddev, biasStddev float64) (*Conv3D, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.NumFilters <= 0 {
		return nil, fmt.Errorf("nn: num-filters %d must be positive", cfg.NumFilters)
	}
	if paramStddev < 0 || biasStddev < 0 {
		return nil, fmt.Errorf("nn: parameter spreads must be nonnegative, got param-stddev=%g bias-stddev=%g",
			paramStddev, biasStddev)
	}

	volume := cfg.filterVolume()
	weights := make([]float64, cfg.NumFilters*volume)
	for i := range weights {
		weights[i] = paramStddev * rand.NormFloat64()
	}
	bias := make([]float64, cfg.NumFilters)
	for i := range bias {
		bias[i] = biasStddev * rand.NormFloat64()
	}

	c := newConv3DShell(ctx, cfg, cfg.NumFilters)
	c.filterParams = mat.NewDense(cfg.NumFilters, volume, weights)
	c.biasParams = mat.NewVecDense(cfg.NumFilters, bias)
	if err := c.initDescriptors(
		[3]int{cfg.FiltXDim, cfg.FiltYDim, cfg.FiltZDim},
		[3]int{cfg.FiltXStep, cfg.FiltYStep, cfg.FiltZStep},
		[3]int{cfg.PadXDim, cfg.PadYDim, cfg.PadZDim},
		[3]int{cfg.UpscaleXDim, cfg.UpscaleYDim, cfg.UpscaleZDim}); err != nil {
		return nil, err
	}
	return c, nil
}

// NewConv3DFromMatrix builds a component from a predefined parameter
// matrix with one row per output filter; the first filterVolume columns
// of each row are the filter weights and the last column is the bias.
func NewConv3DFromMatrix(ctx dnn.Context, cfg Conv3DConfig, params *mat.Dense) (*Conv3D, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rows, cols := params.Dims()
	volume := cfg.filterVolume()
	if cols != volume+1 {
		return nil, fmt.Errorf("nn: parameter matrix has %d columns, want filter volume + bias = %d",
			cols, volume+1)
	}

	weights := mat.NewDense(rows, volume, nil)
	bias := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < volume; j++ {
			weights.Set(i, j, params.At(i, j))
		}
		bias.SetVec(i, params.At(i, volume))
	}

	c := newConv3DShell(ctx, cfg, rows)
	c.filterParams = weights
	c.biasParams = bias
	if err := c.initDescriptors(
		[3]int{cfg.FiltXDim, cfg.FiltYDim, cfg.FiltZDim},
		[3]int{cfg.FiltXStep, cfg.FiltYStep, cfg.FiltZStep},
		[3]int{cfg.PadXDim, cfg.PadYDim, cfg.PadZDim},
		[3]int{cfg.UpscaleXDim, cfg.UpscaleYDim, cfg.UpscaleZDim}); err != nil {
		return nil, err
	}
	return c, nil
}

// NewConv3DFromConfig builds a component from a configuration line such as
//
//	input-x-dim=8 input-y-dim=8 input-z-dim=8 filt-x-dim=3 filt-y-dim=3
//	filt-z-dim=3 filt-x-step=1 filt-y-step=1 filt-z-step=1 num-filters=4
//
// Optional keys: input-num-filters (1), input-vectorization-order (zyx),
// pad-{x,y,z}-dim (0), upscale-{x,y,z}-dim (1), learning-rate (0.001),
// param-stddev, bias-stddev (1.0), and matrix, a file holding a
// predefined parameter matrix which replaces random initialization.
func NewConv3DFromConfig(ctx dnn.Context, line string) (*Conv3D, error) {
	cfl, err := config.ParseLine(line)
	if err != nil {
		return nil, err
	}

	cfg := Conv3DConfig{
		InputNumFilters: 1,
		UpscaleXDim:     1,
		UpscaleYDim:     1,
		UpscaleZDim:     1,
		LearningRate:    defaultLearningRate,
	}
	ok := true
	ok = cfl.IntValue("input-x-dim", &cfg.InputXDim) && ok
	ok = cfl.IntValue("input-y-dim", &cfg.InputYDim) && ok
	ok = cfl.IntValue("input-z-dim", &cfg.InputZDim) && ok
	ok = cfl.IntValue("filt-x-dim", &cfg.FiltXDim) && ok
	ok = cfl.IntValue("filt-y-dim", &cfg.FiltYDim) && ok
	ok = cfl.IntValue("filt-z-dim", &cfg.FiltZDim) && ok
	// The config line says "step"; the descriptors call it "stride".
	ok = cfl.IntValue("filt-x-step", &cfg.FiltXStep) && ok
	ok = cfl.IntValue("filt-y-step", &cfg.FiltYStep) && ok
	ok = cfl.IntValue("filt-z-step", &cfg.FiltZStep) && ok

	cfl.IntValue("input-num-filters", &cfg.InputNumFilters)
	cfl.IntValue("pad-x-dim", &cfg.PadXDim)
	cfl.IntValue("pad-y-dim", &cfg.PadYDim)
	cfl.IntValue("pad-z-dim", &cfg.PadZDim)
	cfl.IntValue("upscale-x-dim", &cfg.UpscaleXDim)
	cfl.IntValue("upscale-y-dim", &cfg.UpscaleYDim)
	cfl.IntValue("upscale-z-dim", &cfg.UpscaleZDim)
	cfl.FloatValue("learning-rate", &cfg.LearningRate)

	order := "zyx"
	cfl.StringValue("input-vectorization-order", &order)
	if cfg.Vectorization, err = tensor.ParseVectorization(order); err != nil {
		return nil, err
	}

	var matrixFile string
	fromMatrix := cfl.StringValue("matrix", &matrixFile)
	var paramStddev, biasStddev float64
	if !fromMatrix {
		ok = cfl.IntValue("num-filters", &cfg.NumFilters) && ok
		if !ok {
			return nil, fmt.Errorf("nn: bad initializer %q", cfl.WholeLine())
		}
		filterInputDim := cfg.FiltXDim * cfg.FiltYDim * cfg.InputZDim
		paramStddev = 1.0 / math.Sqrt(float64(filterInputDim))
		biasStddev = 1.0
		cfl.FloatValue("param-stddev", &paramStddev)
		cfl.FloatValue("bias-stddev", &biasStddev)
	}
	if cfl.HasUnusedValues() {
		return nil, fmt.Errorf("nn: could not process these elements in initializer: %s", cfl.UnusedValues())
	}
	if !ok {
		return nil, fmt.Errorf("nn: bad initializer %q", cfl.WholeLine())
	}

	if fromMatrix {
		params, err := readMatrixFile(matrixFile)
		if err != nil {
			return nil, err
		}
		return NewConv3DFromMatrix(ctx, cfg, params)
	}
	return NewConv3D(ctx, cfg, paramStddev, biasStddev)
}

func readMatrixFile(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nn: opening parameter matrix: %w", err)
	}
	defer f.Close()
	r, err := serialization.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("nn: reading parameter matrix %s: %w", path, err)
	}
	m, err := r.ReadMatrix()
	if err != nil {
		return nil, fmt.Errorf("nn: reading parameter matrix %s: %w", path, err)
	}
	return m, nil
}

// ReadConv3D restores a component from a stream produced by Write.
func ReadConv3D(ctx dnn.Context, r *serialization.Reader) (*Conv3D, error) {
	c := &Conv3D{ctx: ctx}
	if err := c.Read(r); err != nil {
		return nil, err
	}
	return c, nil
}

func newConv3DShell(ctx dnn.Context, cfg Conv3DConfig, numFilters int) *Conv3D {
	return &Conv3D{
		ctx:             ctx,
		inputX:          cfg.InputXDim,
		inputY:          cfg.InputYDim,
		inputZ:          cfg.InputZDim,
		inputNumFilters: cfg.InputNumFilters,
		numFilters:      numFilters,
		vectorization:   cfg.Vectorization,
		learningRate:    cfg.LearningRate,
	}
}

// initDescriptors (re)builds the filter, convolution and bias descriptors
// from the given geometry. The filter descriptor always uses canonical
// channel-major ordering; the bias descriptor is a degenerate 5-D tensor
// laid out in the configured input ordering.
func (c *Conv3D) initDescriptors(filt, stride, pad, upscale [3]int) error {
	fd, err := dnn.NewFilterDesc(c.numFilters, c.inputNumFilters, filt[0], filt[1], filt[2])
	if err != nil {
		return err
	}
	cd, err := dnn.NewConvDesc(pad, stride, upscale, dnn.CrossCorrelation)
	if err != nil {
		return err
	}
	biasDims := [tensor.NumAxes]int{1, c.numFilters, 1, 1, 1}
	bd, err := dnn.NewTensorDesc(biasDims, tensor.Strides(c.vectorization.InputOrder(), biasDims))
	if err != nil {
		return err
	}
	c.filterDesc, c.convDesc, c.biasDesc = fd, cd, bd
	return nil
}

// Type returns the component type tag.
func (c *Conv3D) Type() string { return Conv3DType }

// LearningRate returns the update scale.
func (c *Conv3D) LearningRate() float64 { return c.learningRate }

// SetLearningRate sets the update scale.
func (c *Conv3D) SetLearningRate(lr float64) { c.learningRate = lr }

// IsGradient reports whether this instance accumulates gradients.
func (c *Conv3D) IsGradient() bool { return c.isGradient }

// InputDim returns the number of columns Propagate expects per input row.
func (c *Conv3D) InputDim() int {
	return c.inputNumFilters * c.inputX * c.inputY * c.inputZ
}

// outputDims asks the context for the forward output shape of a
// single-element batch and returns the three spatial dims.
func (c *Conv3D) outputDims() [3]int {
	dims, err := c.ctx.ForwardOutputDims(c.convDesc, c.inputDesc(1), c.filterDesc)
	if err != nil {
		panic(fmt.Sprintf("nn: output shape inference failed: %v", err))
	}
	if dims[0] != 1 {
		panic(fmt.Sprintf("nn: shape inference returned batch %d for a single-element batch", dims[0]))
	}
	if dims[1] != c.numFilters {
		panic(fmt.Sprintf("nn: shape inference returned %d channels, component has %d filters", dims[1], c.numFilters))
	}
	return [3]int{dims[2], dims[3], dims[4]}
}

// OutputDim returns numFilters * x' * y' * z' for the inferred output
// spatial dims.
func (c *Conv3D) OutputDim() int {
	od := c.outputDims()
	return c.numFilters * od[0] * od[1] * od[2]
}

func (c *Conv3D) inputDesc(batch int) *dnn.TensorDesc {
	dims := [tensor.NumAxes]int{batch, c.inputNumFilters, c.inputX, c.inputY, c.inputZ}
	d, err := dnn.NewTensorDesc(dims, tensor.Strides(c.vectorization.InputOrder(), dims))
	if err != nil {
		panic(fmt.Sprintf("nn: building input descriptor: %v", err))
	}
	return d
}

func (c *Conv3D) outputDesc(batch int, od [3]int, order tensor.Order) *dnn.TensorDesc {
	dims := [tensor.NumAxes]int{batch, c.numFilters, od[0], od[1], od[2]}
	d, err := dnn.NewTensorDesc(dims, tensor.Strides(order, dims))
	if err != nil {
		panic(fmt.Sprintf("nn: building output descriptor: %v", err))
	}
	return d
}

// ensureWorkspace grows the workspace to at least bytes. The buffer is
// never shrunk and never shared across copies.
func (c *Conv3D) ensureWorkspace(bytes int64) dnn.Buffer {
	if c.workspace != nil && c.workspaceBytes >= bytes {
		return c.workspace
	}
	if c.workspace != nil {
		c.ctx.Allocator().Free(c.workspace)
		c.workspace = nil
	}
	buf, err := c.ctx.Allocator().Allocate(bytes)
	if err != nil {
		panic(fmt.Sprintf("nn: allocating %d workspace bytes: %v", bytes, err))
	}
	c.workspace = buf
	c.workspaceBytes = bytes
	return buf
}

// checkFinite is a cheap sanity probe: the Frobenius norm and bias sum
// are NaN whenever any parameter is.
func (c *Conv3D) checkFinite() {
	f := mat.Norm(c.filterParams, 2)
	if f != f {
		panic("nn: filter parameters contain NaN")
	}
	b := floats.Sum(vecData("bias", c.biasParams))
	if b != b {
		panic("nn: bias parameters contain NaN")
	}
}

// Propagate computes the forward convolution and adds the bias to every
// spatial position of every output channel. The output is fully
// overwritten.
func (c *Conv3D) Propagate(in, out *mat.Dense) {
	c.checkFinite()

	inData := denseData("input", in)
	outData := denseData("output", out)
	batch, inCols := in.Dims()
	outRows, outCols := out.Dims()
	if inCols != c.InputDim() {
		panic(fmt.Sprintf("nn: input has %d columns, component expects %d", inCols, c.InputDim()))
	}
	if outRows != batch {
		panic(fmt.Sprintf("nn: output has %d rows, input has %d", outRows, batch))
	}

	od := c.outputDims()
	if want := c.numFilters * od[0] * od[1] * od[2]; outCols != want {
		panic(fmt.Sprintf("nn: output has %d columns, component produces %d", outCols, want))
	}

	inDesc := c.inputDesc(batch)
	outDesc := c.outputDesc(batch, od, tensor.OrderNXYZC)

	need, err := c.ctx.ForwardWorkspaceSize(inDesc, c.filterDesc, c.convDesc, outDesc, c.fwdAlgo)
	if err != nil {
		panic(fmt.Sprintf("nn: forward workspace query failed: %v", err))
	}
	ws := c.ensureWorkspace(need)

	err = c.ctx.ConvolutionForward(1, inDesc, inData,
		c.filterDesc, denseData("filter", c.filterParams), c.convDesc, c.fwdAlgo,
		ws, 0, outDesc, outData)
	if err != nil {
		panic(fmt.Sprintf("nn: forward convolution failed: %v", err))
	}
	err = c.ctx.AddTensor(1, c.biasDesc, vecData("bias", c.biasParams), 1, outDesc, outData)
	if err != nil {
		panic(fmt.Sprintf("nn: bias add failed: %v", err))
	}
}

// Backprop computes the backward pass. The backward-data and
// backward-filter primitives require the output derivative in canonical
// channel-major layout, so it is first transformed out of the channel-last
// layout Propagate produced it in.
//
// When toUpdate is non-nil its parameters receive the parameter gradient
// scaled by its learning rate, accumulated in place. For true gradient
// accumulation the target must be a gradient accumulator: learning rate 1
// and parameters pre-zeroed, which SetZero(true) arranges.
func (c *Conv3D) Backprop(debug string, in, outDeriv *mat.Dense, toUpdate Component, inDeriv *mat.Dense) {
	c.checkFinite()

	inData := denseData("input", in)
	dyData := denseData("output derivative", outDeriv)
	batch, inCols := in.Dims()
	if inCols != c.InputDim() {
		panic(fmt.Sprintf("nn: %s: input has %d columns, component expects %d", debug, inCols, c.InputDim()))
	}

	od := c.outputDims()
	dyRows, dyCols := outDeriv.Dims()
	if want := c.numFilters * od[0] * od[1] * od[2]; dyCols != want {
		panic(fmt.Sprintf("nn: %s: output derivative has %d columns, component produces %d", debug, dyCols, want))
	}
	if dyRows != batch {
		panic(fmt.Sprintf("nn: %s: output derivative has %d rows, input has %d", debug, dyRows, batch))
	}

	dyDesc := c.outputDesc(batch, od, tensor.OrderNXYZC)
	canonDesc := c.outputDesc(batch, od, tensor.OrderNCXYZ)
	canon := make([]float64, batch*dyCols)
	if err := c.ctx.TransformTensor(1, dyDesc, dyData, 0, canonDesc, canon); err != nil {
		panic(fmt.Sprintf("nn: %s: output derivative transform failed: %v", debug, err))
	}

	inDesc := c.inputDesc(batch)

	if inDeriv != nil {
		dxData := denseData("input derivative", inDeriv)
		dxRows, dxCols := inDeriv.Dims()
		if dxRows != batch || dxCols != inCols {
			panic(fmt.Sprintf("nn: %s: input derivative is %dx%d, want %dx%d", debug, dxRows, dxCols, batch, inCols))
		}
		need, err := c.ctx.BackwardDataWorkspaceSize(c.filterDesc, canonDesc, c.convDesc, inDesc, c.bwdDataAlgo)
		if err != nil {
			panic(fmt.Sprintf("nn: %s: backward-data workspace query failed: %v", debug, err))
		}
		ws := c.ensureWorkspace(need)
		err = c.ctx.ConvolutionBackwardData(1, c.filterDesc, denseData("filter", c.filterParams),
			canonDesc, canon, c.convDesc, c.bwdDataAlgo,
			ws, 1, inDesc, dxData)
		if err != nil {
			panic(fmt.Sprintf("nn: %s: backward-data failed: %v", debug, err))
		}
	}

	if toUpdate != nil {
		target, ok := toUpdate.(*Conv3D)
		if !ok || toUpdate.Type() != c.Type() {
			panic(fmt.Sprintf("nn: %s: cannot accumulate parameter gradients into a %s", debug, toUpdate.Type()))
		}
		target.update(inData, canon, inDesc, canonDesc)
	}
}

// update accumulates learningRate * parameter gradient into the filter
// and bias parameters, in place. The output derivative must be in
// canonical layout.
func (c *Conv3D) update(x, dy []float64, inDesc, outDerivDesc *dnn.TensorDesc) {
	need, err := c.ctx.BackwardFilterWorkspaceSize(inDesc, outDerivDesc, c.convDesc, c.filterDesc, c.bwdFilterAlgo)
	if err != nil {
		panic(fmt.Sprintf("nn: backward-filter workspace query failed: %v", err))
	}
	ws := c.ensureWorkspace(need)

	err = c.ctx.ConvolutionBackwardFilter(c.learningRate, inDesc, x,
		outDerivDesc, dy, c.convDesc, c.bwdFilterAlgo,
		ws, 1, c.filterDesc, denseData("filter", c.filterParams))
	if err != nil {
		panic(fmt.Sprintf("nn: backward-filter failed: %v", err))
	}
	err = c.ctx.ConvolutionBackwardBias(c.learningRate, outDerivDesc, dy,
		1, c.biasDesc, vecData("bias", c.biasParams))
	if err != nil {
		panic(fmt.Sprintf("nn: backward-bias failed: %v", err))
	}
}

// Copy returns a deep copy. Descriptors are rebuilt and the workspace is
// freshly allocated at the source's size, never shared.
func (c *Conv3D) Copy() Component {
	cp := &Conv3D{
		ctx:             c.ctx,
		inputX:          c.inputX,
		inputY:          c.inputY,
		inputZ:          c.inputZ,
		inputNumFilters: c.inputNumFilters,
		numFilters:      c.numFilters,
		vectorization:   c.vectorization,
		learningRate:    c.learningRate,
		isGradient:      c.isGradient,
		filterDesc:      c.filterDesc.Clone(),
		biasDesc:        c.biasDesc.Clone(),
		convDesc:        c.convDesc.Clone(),
		fwdAlgo:         c.fwdAlgo,
		bwdDataAlgo:     c.bwdDataAlgo,
		bwdFilterAlgo:   c.bwdFilterAlgo,
	}
	cp.filterParams = mat.DenseCopyOf(c.filterParams)
	cp.biasParams = mat.VecDenseCopyOf(c.biasParams)
	if c.workspaceBytes > 0 {
		cp.ensureWorkspace(c.workspaceBytes)
	}
	return cp
}

// Destroy releases the workspace buffer and drops the descriptors.
func (c *Conv3D) Destroy() {
	if c.workspace != nil {
		c.ctx.Allocator().Free(c.workspace)
		c.workspace = nil
		c.workspaceBytes = 0
	}
	c.filterDesc, c.biasDesc, c.convDesc = nil, nil, nil
}

// Write serializes the component. Filter dims, padding, strides and
// upscales are queried back from the descriptors rather than stored
// redundantly.
func (c *Conv3D) Write(w *serialization.Writer) error {
	filt := c.filterDesc.Dims()
	if c.filterDesc.InChannels() != c.inputNumFilters || c.filterDesc.OutChannels() != c.numFilters {
		panic(fmt.Sprintf("nn: filter descriptor %s disagrees with component channels %d->%d",
			c.filterDesc, c.inputNumFilters, c.numFilters))
	}
	if c.convDesc.Mode() != dnn.CrossCorrelation {
		panic(fmt.Sprintf("nn: convolution descriptor mode %s", c.convDesc.Mode()))
	}
	pad, stride, upscale := c.convDesc.Pad(), c.convDesc.Stride(), c.convDesc.Upscale()

	// The writer latches its first error, so the whole sequence can be
	// emitted unconditionally.
	w.WriteToken(tokConv3DOpen)
	w.WriteToken(tokLearningRate)
	w.WriteFloat(c.learningRate)
	w.WriteToken(tokInputXDim)
	w.WriteInt(c.inputX)
	w.WriteToken(tokInputYDim)
	w.WriteInt(c.inputY)
	w.WriteToken(tokInputZDim)
	w.WriteInt(c.inputZ)
	w.WriteToken(tokInputNumFilters)
	w.WriteInt(c.inputNumFilters)
	w.WriteToken(tokOutputNumFilt)
	w.WriteInt(c.numFilters)
	w.WriteToken(tokFilterXDim)
	w.WriteInt(filt[0])
	w.WriteToken(tokFilterYDim)
	w.WriteInt(filt[1])
	w.WriteToken(tokFilterZDim)
	w.WriteInt(filt[2])
	w.WriteToken(tokFilterXPadding)
	w.WriteInt(pad[0])
	w.WriteToken(tokFilterYPadding)
	w.WriteInt(pad[1])
	w.WriteToken(tokFilterZPadding)
	w.WriteInt(pad[2])
	w.WriteToken(tokFilterXStride)
	w.WriteInt(stride[0])
	w.WriteToken(tokFilterYStride)
	w.WriteInt(stride[1])
	w.WriteToken(tokFilterZStride)
	w.WriteInt(stride[2])
	w.WriteToken(tokFilterXUpscale)
	w.WriteInt(upscale[0])
	w.WriteToken(tokFilterYUpscale)
	w.WriteInt(upscale[1])
	w.WriteToken(tokFilterZUpscale)
	w.WriteInt(upscale[2])
	w.WriteToken(tokInputVector)
	w.WriteInt(int(c.vectorization))
	w.WriteToken(tokFilterParams)
	w.WriteMatrix(c.filterParams)
	w.WriteToken(tokBiasParams)
	w.WriteVector(c.biasParams)
	w.WriteToken(tokIsGradient)
	w.WriteBool(c.isGradient)
	return w.WriteToken(tokConv3DClose)
}

// Read restores the component from a stream produced by Write and rebuilds
// its descriptors from the recovered geometry.
func (c *Conv3D) Read(r *serialization.Reader) error {
	if err := r.ExpectToken(tokConv3DOpen); err != nil {
		return err
	}
	if err := r.ExpectToken(tokLearningRate); err != nil {
		return err
	}
	var err error
	if c.learningRate, err = r.ReadFloat(); err != nil {
		return err
	}

	readInt := func(tok string, dst *int) error {
		if err := r.ExpectToken(tok); err != nil {
			return err
		}
		v, err := r.ReadInt()
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}

	var filt, pad, stride, upscale [3]int
	intFields := []struct {
		tok string
		dst *int
	}{
		{tokInputXDim, &c.inputX},
		{tokInputYDim, &c.inputY},
		{tokInputZDim, &c.inputZ},
		{tokInputNumFilters, &c.inputNumFilters},
		{tokOutputNumFilt, &c.numFilters},
		{tokFilterXDim, &filt[0]},
		{tokFilterYDim, &filt[1]},
		{tokFilterZDim, &filt[2]},
		{tokFilterXPadding, &pad[0]},
		{tokFilterYPadding, &pad[1]},
		{tokFilterZPadding, &pad[2]},
		{tokFilterXStride, &stride[0]},
		{tokFilterYStride, &stride[1]},
		{tokFilterZStride, &stride[2]},
		{tokFilterXUpscale, &upscale[0]},
		{tokFilterYUpscale, &upscale[1]},
		{tokFilterZUpscale, &upscale[2]},
	}
	for _, f := range intFields {
		if err := readInt(f.tok, f.dst); err != nil {
			return err
		}
	}

	if err := r.ExpectToken(tokInputVector); err != nil {
		return err
	}
	tag, err := r.ReadInt()
	if err != nil {
		return err
	}
	if c.vectorization, err = tensor.VectorizationFromInt(tag); err != nil {
		return err
	}

	if err := r.ExpectToken(tokFilterParams); err != nil {
		return err
	}
	if c.filterParams, err = r.ReadMatrix(); err != nil {
		return err
	}
	if err := r.ExpectToken(tokBiasParams); err != nil {
		return err
	}
	if c.biasParams, err = r.ReadVector(); err != nil {
		return err
	}
	if err := r.ExpectToken(tokIsGradient); err != nil {
		return err
	}
	if c.isGradient, err = r.ReadBool(); err != nil {
		return err
	}
	if err := r.ExpectToken(tokConv3DClose); err != nil {
		return err
	}

	rows, cols := c.filterParams.Dims()
	volume := c.inputNumFilters * filt[0] * filt[1] * filt[2]
	if rows != c.numFilters || cols != volume {
		return fmt.Errorf("nn: filter matrix is %dx%d, geometry requires %dx%d", rows, cols, c.numFilters, volume)
	}
	if c.biasParams.Len() != c.numFilters {
		return fmt.Errorf("nn: bias vector has %d elements, component has %d filters", c.biasParams.Len(), c.numFilters)
	}
	return c.initDescriptors(filt, stride, pad, upscale)
}

// NumParameters returns the total learned parameter count.
func (c *Conv3D) NumParameters() int {
	rows, cols := c.filterParams.Dims()
	return rows*cols + c.biasParams.Len()
}

// Vectorize flattens the filter weights (row-major) followed by the bias
// into dst.
func (c *Conv3D) Vectorize(dst *mat.VecDense) {
	if dst.Len() != c.NumParameters() {
		panic(fmt.Sprintf("nn: parameter vector has %d elements, component has %d", dst.Len(), c.NumParameters()))
	}
	out := vecData("parameter", dst)
	w := denseData("filter", c.filterParams)
	copy(out[:len(w)], w)
	copy(out[len(w):], vecData("bias", c.biasParams))
}

// UnVectorize restores the filter weights and bias from dst's layout.
func (c *Conv3D) UnVectorize(src *mat.VecDense) {
	if src.Len() != c.NumParameters() {
		panic(fmt.Sprintf("nn: parameter vector has %d elements, component has %d", src.Len(), c.NumParameters()))
	}
	in := vecData("parameter", src)
	w := denseData("filter", c.filterParams)
	copy(w, in[:len(w)])
	copy(vecData("bias", c.biasParams), in[len(w):])
}

// Scale multiplies all parameters by f in place.
func (c *Conv3D) Scale(f float64) {
	floats.Scale(f, denseData("filter", c.filterParams))
	floats.Scale(f, vecData("bias", c.biasParams))
}

// Add accumulates alpha times the parameters of other, which must be
// another Conv3D with matching shapes.
func (c *Conv3D) Add(alpha float64, other Component) {
	o := c.sameType("add parameters from", other)
	floats.AddScaled(denseData("filter", c.filterParams), alpha, denseData("filter", o.filterParams))
	floats.AddScaled(vecData("bias", c.biasParams), alpha, vecData("bias", o.biasParams))
}

// DotProduct returns the inner product of the two components' parameter
// vectors: trace(W · otherWᵀ) plus the bias dot product.
func (c *Conv3D) DotProduct(other Updatable) float64 {
	o := c.sameType("dot parameters with", other)
	return floats.Dot(denseData("filter", c.filterParams), denseData("filter", o.filterParams)) +
		floats.Dot(vecData("bias", c.biasParams), vecData("bias", o.biasParams))
}

// PerturbParams adds independent Gaussian noise scaled by stddev to all
// parameters.
func (c *Conv3D) PerturbParams(stddev float64) {
	w := denseData("filter", c.filterParams)
	for i := range w {
		w[i] += stddev * rand.NormFloat64()
	}
	b := vecData("bias", c.biasParams)
	for i := range b {
		b[i] += stddev * rand.NormFloat64()
	}
}

// SetZero zeroes all parameters. With asGradient the component becomes a
// gradient accumulator: learning rate forced to 1 so Backprop's update
// path accumulates the raw gradient.
func (c *Conv3D) SetZero(asGradient bool) {
	if asGradient {
		c.learningRate = 1
		c.isGradient = true
	}
	w := denseData("filter", c.filterParams)
	for i := range w {
		w[i] = 0
	}
	b := vecData("bias", c.biasParams)
	for i := range b {
		b[i] = 0
	}
}

// Info returns a one-line description of the component configuration and
// parameter statistics.
func (c *Conv3D) Info() string {
	filt := c.filterDesc.Dims()
	pad, stride, upscale := c.convDesc.Pad(), c.convDesc.Stride(), c.convDesc.Upscale()
	var sb strings.Builder
	fmt.Fprintf(&sb, "component type=%s, learning-rate=%g", c.Type(), c.learningRate)
	if c.isGradient {
		sb.WriteString(", is-gradient=true")
	}
	fmt.Fprintf(&sb, ", input-x-dim=%d, input-y-dim=%d, input-z-dim=%d", c.inputX, c.inputY, c.inputZ)
	fmt.Fprintf(&sb, ", filt-x-dim=%d, filt-y-dim=%d, filt-z-dim=%d", filt[0], filt[1], filt[2])
	fmt.Fprintf(&sb, ", filt-x-step=%d, filt-y-step=%d, filt-z-step=%d", stride[0], stride[1], stride[2])
	fmt.Fprintf(&sb, ", x-zero-pad=%d, y-zero-pad=%d, z-zero-pad=%d", pad[0], pad[1], pad[2])
	fmt.Fprintf(&sb, ", x-upscale=%d, y-upscale=%d, z-upscale=%d", upscale[0], upscale[1], upscale[2])
	fmt.Fprintf(&sb, ", input-vectorization=%s, input-num-filters=%d, num-filters=%d",
		c.vectorization, c.inputNumFilters, c.numFilters)
	mean, stddev := paramStats(denseData("filter", c.filterParams))
	fmt.Fprintf(&sb, ", filter-params-mean=%.3g, filter-params-stddev=%.3g", mean, stddev)
	mean, stddev = paramStats(vecData("bias", c.biasParams))
	fmt.Fprintf(&sb, ", bias-params-mean=%.3g, bias-params-stddev=%.3g", mean, stddev)
	return sb.String()
}

// sameType asserts that other is a Conv3D and returns it.
func (c *Conv3D) sameType(what string, other Component) *Conv3D {
	o, ok := other.(*Conv3D)
	if !ok || other.Type() != c.Type() {
		panic(fmt.Sprintf("nn: cannot %s a %s", what, other.Type()))
	}
	return o
}

func paramStats(data []float64) (mean, stddev float64) {
	if len(data) == 0 {
		return 0, 0
	}
	mean = floats.Sum(data) / float64(len(data))
	var sq float64
	for _, v := range data {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(data)))
}

// denseData returns a matrix's backing slice, requiring dense row-major
// packing with no row padding.
func denseData(name string, m *mat.Dense) []float64 {
	rm := m.RawMatrix()
	if rm.Stride != rm.Cols {
		panic(fmt.Sprintf("nn: %s matrix must be densely packed, stride %d != cols %d", name, rm.Stride, rm.Cols))
	}
	return rm.Data[:rm.Rows*rm.Cols]
}

// vecData returns a vector's backing slice, requiring unit increment.
func vecData(name string, v *mat.VecDense) []float64 {
	rv := v.RawVector()
	if rv.Inc != 1 {
		panic(fmt.Sprintf("nn: %s vector must be contiguous, inc %d", name, rv.Inc))
	}
	return rv.Data[:rv.N]
}
