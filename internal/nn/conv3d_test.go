package nn

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/cantor-asr/cantor/internal/backend/cpu"
	"github.com/cantor-asr/cantor/internal/serialization"
	"github.com/cantor-asr/cantor/internal/tensor"
)

func smallConfig() Conv3DConfig {
	return Conv3DConfig{
		InputXDim: 1, InputYDim: 1, InputZDim: 3,
		InputNumFilters: 1,
		FiltXDim:        1, FiltYDim: 1, FiltZDim: 2,
		FiltXStep: 1, FiltYStep: 1, FiltZStep: 1,
		UpscaleXDim: 1, UpscaleYDim: 1, UpscaleZDim: 1,
	}
}

func cubeConfig() Conv3DConfig {
	return Conv3DConfig{
		InputXDim: 8, InputYDim: 8, InputZDim: 8,
		InputNumFilters: 1,
		FiltXDim:        3, FiltYDim: 3, FiltZDim: 3,
		FiltXStep: 1, FiltYStep: 1, FiltZStep: 1,
		UpscaleXDim: 1, UpscaleYDim: 1, UpscaleZDim: 1,
		NumFilters: 4,
	}
}

func propagate(t *testing.T, c *Conv3D, in *mat.Dense) *mat.Dense {
	t.Helper()
	rows, _ := in.Dims()
	out := mat.NewDense(rows, c.OutputDim(), nil)
	c.Propagate(in, out)
	return out
}

func TestConv3DOutputDim(t *testing.T) {
	c, err := NewConv3D(cpu.New(), cubeConfig(), 0.1, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 4*6*6*6, c.OutputDim())
	assert.Equal(t, 864, c.OutputDim())
}

func TestConv3DPropagateKnownValues(t *testing.T) {
	// Two filters over a 3-long z axis: weights (1,2) and (3,4), biases
	// 10 and 20.
	params := mat.NewDense(2, 3, []float64{
		1, 2, 10,
		3, 4, 20,
	})
	c, err := NewConv3DFromMatrix(cpu.New(), smallConfig(), params)
	require.NoError(t, err)

	out := propagate(t, c, mat.NewDense(1, 3, []float64{1, 2, 3}))

	// Output is channel-last: [c0z0 c1z0 c0z1 c1z1].
	want := []float64{15, 31, 18, 38}
	assert.InDeltaSlice(t, want, out.RawMatrix().Data, 1e-12)
}

func TestConv3DPropagateBatch(t *testing.T) {
	params := mat.NewDense(1, 3, []float64{1, 2, 0})
	c, err := NewConv3DFromMatrix(cpu.New(), smallConfig(), params)
	require.NoError(t, err)

	in := mat.NewDense(2, 3, []float64{
		1, 2, 3,
		-1, 0, 1,
	})
	out := propagate(t, c, in)
	assert.InDeltaSlice(t, []float64{5, 8}, out.RawRowView(0), 1e-12)
	assert.InDeltaSlice(t, []float64{-1, 2}, out.RawRowView(1), 1e-12)
}

func TestConv3DPropagateYZXVectorization(t *testing.T) {
	// A 1x1x1 identity filter makes Propagate a pure relayout: rows come
	// in y-fastest and leave channel-last (z fastest for one channel).
	cfg := Conv3DConfig{
		InputXDim: 1, InputYDim: 2, InputZDim: 2,
		InputNumFilters: 1,
		FiltXDim:        1, FiltYDim: 1, FiltZDim: 1,
		FiltXStep: 1, FiltYStep: 1, FiltZStep: 1,
		UpscaleXDim: 1, UpscaleYDim: 1, UpscaleZDim: 1,
		Vectorization: tensor.VectorizeYZX,
	}
	params := mat.NewDense(1, 2, []float64{1, 0})
	c, err := NewConv3DFromMatrix(cpu.New(), cfg, params)
	require.NoError(t, err)

	// y-fastest input: [y0z0 y1z0 y0z1 y1z1].
	out := propagate(t, c, mat.NewDense(1, 4, []float64{1, 2, 3, 4}))
	assert.InDeltaSlice(t, []float64{1, 3, 2, 4}, out.RawMatrix().Data, 1e-12)
}

func TestConv3DPropagateZeroParamsGivesZeroOutput(t *testing.T) {
	c, err := NewConv3D(cpu.New(), cubeConfig(), 0.5, 0.5)
	require.NoError(t, err)
	c.SetZero(false)

	in := mat.NewDense(2, c.InputDim(), nil)
	for i := 0; i < 2; i++ {
		for j := 0; j < c.InputDim(); j++ {
			in.Set(i, j, float64(i*31+j%17)-5)
		}
	}
	out := propagate(t, c, in)
	for _, v := range out.RawMatrix().Data {
		assert.Zero(t, v)
	}
}

func TestConv3DBackpropInputDerivative(t *testing.T) {
	// Propagate is affine in the input, so the input derivative of
	// L = <out, dy> is exact under unit perturbations.
	params := mat.NewDense(2, 3, []float64{
		1, -2, 0.5,
		0.25, 3, -1,
	})
	c, err := NewConv3DFromMatrix(cpu.New(), smallConfig(), params)
	require.NoError(t, err)

	in := mat.NewDense(1, 3, []float64{0.5, -1, 2})
	dy := mat.NewDense(1, c.OutputDim(), []float64{1, -1, 0.5, 2})

	dx := mat.NewDense(1, 3, nil)
	c.Backprop("conv1", in, dy, nil, dx)

	base := propagate(t, c, in)
	for j := 0; j < 3; j++ {
		bumped := mat.DenseCopyOf(in)
		bumped.Set(0, j, in.At(0, j)+1)
		diff := propagate(t, c, bumped)
		var want float64
		for k := 0; k < c.OutputDim(); k++ {
			want += (diff.At(0, k) - base.At(0, k)) * dy.At(0, k)
		}
		assert.InDelta(t, want, dx.At(0, j), 1e-10, "input derivative %d", j)
	}
}

func TestConv3DBackpropAccumulatesInputDerivative(t *testing.T) {
	params := mat.NewDense(1, 3, []float64{1, 2, 0})
	c, err := NewConv3DFromMatrix(cpu.New(), smallConfig(), params)
	require.NoError(t, err)

	in := mat.NewDense(1, 3, []float64{1, 1, 1})
	dy := mat.NewDense(1, 2, []float64{1, 1})

	dx := mat.NewDense(1, 3, []float64{100, 100, 100})
	c.Backprop("conv1", in, dy, nil, dx)
	// dx = old + W^T dy: [1, 1+2, 2] over the existing 100s.
	assert.InDeltaSlice(t, []float64{101, 103, 102}, dx.RawMatrix().Data, 1e-12)
}

func TestConv3DGradientAccumulation(t *testing.T) {
	params := mat.NewDense(2, 3, []float64{
		1, -2, 0.5,
		0.25, 3, -1,
	})
	ctx := cpu.New()
	c, err := NewConv3DFromMatrix(ctx, smallConfig(), params)
	require.NoError(t, err)

	grad := c.Copy().(*Conv3D)
	grad.SetZero(true)
	require.True(t, grad.IsGradient())
	require.Equal(t, 1.0, grad.LearningRate())

	in := mat.NewDense(2, 3, []float64{
		0.5, -1, 2,
		1, 0.25, -0.5,
	})
	dy := mat.NewDense(2, c.OutputDim(), []float64{
		1, -1, 0.5, 2,
		-0.5, 1, 0.25, -1,
	})
	c.Backprop("conv1", in, dy, grad, nil)

	// Propagate is affine in each weight, so unit weight bumps give the
	// exact gradient of L = <out, dy>.
	base := propagate(t, c, in)
	rows, cols := c.filterParams.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			bumped := c.Copy().(*Conv3D)
			bumped.filterParams.Set(i, j, c.filterParams.At(i, j)+1)
			diff := propagate(t, bumped, in)
			var want float64
			for r := 0; r < 2; r++ {
				for k := 0; k < c.OutputDim(); k++ {
					want += (diff.At(r, k) - base.At(r, k)) * dy.At(r, k)
				}
			}
			assert.InDelta(t, want, grad.filterParams.At(i, j), 1e-10, "weight gradient (%d,%d)", i, j)
		}
	}

	// Bias gradient is the per-channel sum of dy; columns are
	// channel-last, so channel o sits at column o + numFilters*z.
	for o := 0; o < 2; o++ {
		var want float64
		for r := 0; r < 2; r++ {
			for z := 0; z < 2; z++ {
				want += dy.At(r, o+2*z)
			}
		}
		assert.InDelta(t, want, grad.biasParams.AtVec(o), 1e-10, "bias gradient %d", o)
	}
}

func TestConv3DUpdateScalesByLearningRate(t *testing.T) {
	params := mat.NewDense(1, 3, []float64{1, 2, 0})
	ctx := cpu.New()
	c, err := NewConv3DFromMatrix(ctx, smallConfig(), params)
	require.NoError(t, err)

	full := c.Copy().(*Conv3D)
	full.SetZero(true)
	half := c.Copy().(*Conv3D)
	half.SetZero(true)
	half.SetLearningRate(0.5)

	in := mat.NewDense(1, 3, []float64{1, -2, 3})
	dy := mat.NewDense(1, 2, []float64{2, -1})
	c.Backprop("conv1", in, dy, full, nil)
	c.Backprop("conv1", in, dy, half, nil)

	fullVec := mat.NewVecDense(c.NumParameters(), nil)
	halfVec := mat.NewVecDense(c.NumParameters(), nil)
	full.Vectorize(fullVec)
	half.Vectorize(halfVec)
	for i := 0; i < fullVec.Len(); i++ {
		assert.InDelta(t, 0.5*fullVec.AtVec(i), halfVec.AtVec(i), 1e-12)
	}
}

func TestConv3DRoundTrip(t *testing.T) {
	for _, binary := range []bool{false, true} {
		ctx := cpu.New()
		cfg := cubeConfig()
		cfg.PadXDim, cfg.PadYDim, cfg.PadZDim = 1, 0, 1
		cfg.FiltXStep = 2
		cfg.Vectorization = tensor.VectorizeYZX
		cfg.LearningRate = 0.01
		c, err := NewConv3D(ctx, cfg, 0.3, 0.2)
		require.NoError(t, err)
		c.SetZero(true)
		c.PerturbParams(0.7)

		var buf bytes.Buffer
		w := serialization.NewWriter(&buf, binary)
		require.NoError(t, c.Write(w))
		require.NoError(t, w.Flush())

		r, err := serialization.NewReader(&buf)
		require.NoError(t, err)
		got, err := ReadConv3D(ctx, r)
		require.NoError(t, err)

		assert.Equal(t, c.Info(), got.Info(), "binary=%v", binary)
		assert.Equal(t, c.OutputDim(), got.OutputDim())
		assert.Equal(t, c.LearningRate(), got.LearningRate())
		assert.Equal(t, c.IsGradient(), got.IsGradient())

		a := mat.NewVecDense(c.NumParameters(), nil)
		b := mat.NewVecDense(got.NumParameters(), nil)
		c.Vectorize(a)
		got.Vectorize(b)
		assert.Equal(t, a.RawVector().Data, b.RawVector().Data, "parameters must survive bit-exact")
	}
}

func TestConv3DReadRejectsWrongToken(t *testing.T) {
	ctx := cpu.New()
	c, err := NewConv3D(ctx, cubeConfig(), 0.1, 0.1)
	require.NoError(t, err)

	var buf bytes.Buffer
	w := serialization.NewWriter(&buf, false)
	require.NoError(t, w.WriteToken("<SigmoidComponent>"))
	require.NoError(t, w.Flush())

	r, err := serialization.NewReader(&buf)
	require.NoError(t, err)
	err = c.Read(r)
	require.ErrorIs(t, err, serialization.ErrUnexpectedToken)
}

func TestConv3DVectorizeRoundTrip(t *testing.T) {
	c, err := NewConv3D(cpu.New(), cubeConfig(), 0.3, 0.4)
	require.NoError(t, err)

	v := mat.NewVecDense(c.NumParameters(), nil)
	c.Vectorize(v)

	other := c.Copy().(*Conv3D)
	other.SetZero(false)
	other.UnVectorize(v)

	back := mat.NewVecDense(c.NumParameters(), nil)
	other.Vectorize(back)
	assert.Equal(t, v.RawVector().Data, back.RawVector().Data)
}

func TestConv3DScaleZero(t *testing.T) {
	c, err := NewConv3D(cpu.New(), cubeConfig(), 0.3, 0.4)
	require.NoError(t, err)

	n := c.NumParameters()
	c.Scale(0)
	assert.Equal(t, n, c.NumParameters())

	v := mat.NewVecDense(n, nil)
	c.Vectorize(v)
	for i := 0; i < n; i++ {
		assert.Zero(t, v.AtVec(i))
	}
}

func TestConv3DAddThenScaleRestores(t *testing.T) {
	c, err := NewConv3D(cpu.New(), cubeConfig(), 0.3, 0.4)
	require.NoError(t, err)

	orig := mat.NewVecDense(c.NumParameters(), nil)
	c.Vectorize(orig)

	c.Add(1, c.Copy())
	c.Scale(0.5)

	got := mat.NewVecDense(c.NumParameters(), nil)
	c.Vectorize(got)
	assert.InDeltaSlice(t, orig.RawVector().Data, got.RawVector().Data, 1e-12)
}

func TestConv3DDotProductSelf(t *testing.T) {
	c, err := NewConv3D(cpu.New(), cubeConfig(), 0.3, 0.4)
	require.NoError(t, err)

	frob := mat.Norm(c.filterParams, 2)
	want := frob*frob + mat.Dot(c.biasParams, c.biasParams)
	assert.InDelta(t, want, c.DotProduct(c), 1e-9)
}

func TestConv3DBadMatrixColumns(t *testing.T) {
	// Volume+bias is 3 columns; 4 must be rejected before any
	// descriptor exists.
	params := mat.NewDense(2, 4, nil)
	_, err := NewConv3DFromMatrix(cpu.New(), smallConfig(), params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "columns")
}

func TestConv3DNegativeSpread(t *testing.T) {
	_, err := NewConv3D(cpu.New(), cubeConfig(), -0.1, 0.1)
	require.Error(t, err)
	_, err = NewConv3D(cpu.New(), cubeConfig(), 0.1, -0.1)
	require.Error(t, err)
}

func TestConv3DFromConfig(t *testing.T) {
	ctx := cpu.New()
	c, err := NewConv3DFromConfig(ctx,
		"input-x-dim=8 input-y-dim=8 input-z-dim=8 "+
			"filt-x-dim=3 filt-y-dim=3 filt-z-dim=3 "+
			"filt-x-step=1 filt-y-step=1 filt-z-step=1 num-filters=4")
	require.NoError(t, err)
	assert.Equal(t, 864, c.OutputDim())
	assert.Equal(t, defaultLearningRate, c.LearningRate())
	assert.Contains(t, c.Info(), "input-vectorization=zyx")
	assert.Contains(t, c.Info(), "input-num-filters=1")
}

func TestConv3DFromConfigOptions(t *testing.T) {
	c, err := NewConv3DFromConfig(cpu.New(),
		"input-x-dim=4 input-y-dim=4 input-z-dim=4 input-num-filters=2 "+
			"filt-x-dim=3 filt-y-dim=3 filt-z-dim=3 "+
			"filt-x-step=1 filt-y-step=1 filt-z-step=1 num-filters=2 "+
			"pad-x-dim=1 pad-y-dim=1 pad-z-dim=1 "+
			"input-vectorization-order=yzx learning-rate=0.25")
	require.NoError(t, err)
	// Padding keeps the spatial dims.
	assert.Equal(t, 2*4*4*4, c.OutputDim())
	assert.Equal(t, 0.25, c.LearningRate())
	assert.Contains(t, c.Info(), "input-vectorization=yzx")
}

func TestConv3DZeroLearningRateFreezesUpdates(t *testing.T) {
	// An explicit learning-rate=0 must survive construction and make the
	// update path a no-op, not fall back to the default.
	c, err := NewConv3DFromConfig(cpu.New(),
		"input-x-dim=1 input-y-dim=1 input-z-dim=3 "+
			"filt-x-dim=1 filt-y-dim=1 filt-z-dim=2 "+
			"filt-x-step=1 filt-y-step=1 filt-z-step=1 num-filters=2 "+
			"learning-rate=0")
	require.NoError(t, err)
	assert.Zero(t, c.LearningRate())

	frozen := c.Copy().(*Conv3D)
	before := mat.NewVecDense(frozen.NumParameters(), nil)
	frozen.Vectorize(before)

	in := mat.NewDense(1, 3, []float64{1, -2, 3})
	dy := mat.NewDense(1, c.OutputDim(), []float64{2, -1, 1, 0.5})
	c.Backprop("conv1", in, dy, frozen, nil)

	after := mat.NewVecDense(frozen.NumParameters(), nil)
	frozen.Vectorize(after)
	assert.Equal(t, before.RawVector().Data, after.RawVector().Data,
		"a zero learning rate must leave the target untouched")
}

func TestConv3DFromConfigErrors(t *testing.T) {
	ctx := cpu.New()

	_, err := NewConv3DFromConfig(ctx, "input-x-dim=8")
	require.Error(t, err, "missing required keys")

	_, err = NewConv3DFromConfig(ctx,
		"input-x-dim=8 input-y-dim=8 input-z-dim=8 "+
			"filt-x-dim=3 filt-y-dim=3 filt-z-dim=3 "+
			"filt-x-step=1 filt-y-step=1 filt-z-step=1 num-filters=4 "+
			"input-vectorization-order=xyz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vectorization")

	_, err = NewConv3DFromConfig(ctx,
		"input-x-dim=8 input-y-dim=8 input-z-dim=8 "+
			"filt-x-dim=3 filt-y-dim=3 filt-z-dim=3 "+
			"filt-x-step=1 filt-y-step=1 filt-z-step=1 num-filters=4 "+
			"self-repair-scale=0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "self-repair-scale")
}

func TestConv3DCopyIsIndependent(t *testing.T) {
	c, err := NewConv3D(cpu.New(), cubeConfig(), 0.3, 0.4)
	require.NoError(t, err)

	orig := mat.NewVecDense(c.NumParameters(), nil)
	c.Vectorize(orig)

	cp := c.Copy().(*Conv3D)
	assert.Equal(t, c.Info(), cp.Info())

	cp.Scale(0)
	got := mat.NewVecDense(c.NumParameters(), nil)
	c.Vectorize(got)
	assert.Equal(t, orig.RawVector().Data, got.RawVector().Data, "scaling the copy must not touch the original")
}

func TestConv3DSetZeroAsGradient(t *testing.T) {
	c, err := NewConv3D(cpu.New(), cubeConfig(), 0.3, 0.4)
	require.NoError(t, err)
	c.SetLearningRate(0.05)

	c.SetZero(true)
	assert.True(t, c.IsGradient())
	assert.Equal(t, 1.0, c.LearningRate())
	assert.Contains(t, c.Info(), "is-gradient=true")
}

func TestConv3DPropagatePanicsOnNaNParams(t *testing.T) {
	params := mat.NewDense(1, 3, []float64{1, math.NaN(), 0})
	c, err := NewConv3DFromMatrix(cpu.New(), smallConfig(), params)
	require.NoError(t, err)

	in := mat.NewDense(1, 3, []float64{1, 2, 3})
	out := mat.NewDense(1, 2, nil)
	assert.Panics(t, func() { c.Propagate(in, out) })
}

func TestConv3DPropagatePanicsOnBadShape(t *testing.T) {
	params := mat.NewDense(1, 3, []float64{1, 2, 0})
	c, err := NewConv3DFromMatrix(cpu.New(), smallConfig(), params)
	require.NoError(t, err)

	in := mat.NewDense(1, 5, nil)
	out := mat.NewDense(1, 2, nil)
	assert.Panics(t, func() { c.Propagate(in, out) })
}

func TestConv3DInfo(t *testing.T) {
	c, err := NewConv3D(cpu.New(), cubeConfig(), 0.1, 0.1)
	require.NoError(t, err)
	info := c.Info()
	assert.Contains(t, info, "component type=Conv3DComponent")
	assert.Contains(t, info, "input-x-dim=8")
	assert.Contains(t, info, "filt-z-dim=3")
	assert.Contains(t, info, "num-filters=4")
	assert.Contains(t, info, "filter-params-stddev=")
}
