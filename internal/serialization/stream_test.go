package serialization

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestStreamRoundTrip(t *testing.T) {
	for _, binary := range []bool{false, true} {
		var buf bytes.Buffer
		w := NewWriter(&buf, binary)
		require.NoError(t, w.WriteToken("<Test>"))
		require.NoError(t, w.WriteInt(-42))
		require.NoError(t, w.WriteFloat(3.14159))
		require.NoError(t, w.WriteBool(true))
		require.NoError(t, w.WriteBool(false))
		require.NoError(t, w.WriteToken("</Test>"))
		require.NoError(t, w.Flush())

		r, err := NewReader(&buf)
		require.NoError(t, err)
		assert.Equal(t, binary, r.Binary(), "binary=%v", binary)

		require.NoError(t, r.ExpectToken("<Test>"))
		i, err := r.ReadInt()
		require.NoError(t, err)
		assert.Equal(t, -42, i)
		f, err := r.ReadFloat()
		require.NoError(t, err)
		assert.Equal(t, 3.14159, f)
		b, err := r.ReadBool()
		require.NoError(t, err)
		assert.True(t, b)
		b, err = r.ReadBool()
		require.NoError(t, err)
		assert.False(t, b)
		require.NoError(t, r.ExpectToken("</Test>"))
	}
}

func TestStreamTokenMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)
	require.NoError(t, w.WriteToken("<Alpha>"))
	require.NoError(t, w.Flush())

	r, err := NewReader(&buf)
	require.NoError(t, err)
	err = r.ExpectToken("<Beta>")
	require.ErrorIs(t, err, ErrUnexpectedToken)
	assert.Contains(t, err.Error(), "<Alpha>")
}

func TestStreamInvalidToken(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)
	require.ErrorIs(t, w.WriteToken("has space"), ErrInvalidToken)
	require.ErrorIs(t, w.WriteToken(""), ErrInvalidToken)
}

func TestStreamFloatBitExact(t *testing.T) {
	values := []float64{0, 1.0 / 3.0, -2.718281828459045, 1e-300, 6.02214076e23}
	for _, binary := range []bool{false, true} {
		var buf bytes.Buffer
		w := NewWriter(&buf, binary)
		for _, v := range values {
			require.NoError(t, w.WriteFloat(v))
		}
		require.NoError(t, w.Flush())

		r, err := NewReader(&buf)
		require.NoError(t, err)
		for _, v := range values {
			got, err := r.ReadFloat()
			require.NoError(t, err)
			assert.Equal(t, v, got, "binary=%v", binary)
		}
	}
}

func TestStreamMatrixVectorRoundTrip(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, -0.5, 2, 1.0 / 7.0, 0, -3})
	v := mat.NewVecDense(4, []float64{0.25, -1, 1e-12, 9})

	for _, binary := range []bool{false, true} {
		var buf bytes.Buffer
		w := NewWriter(&buf, binary)
		require.NoError(t, w.WriteMatrix(m))
		require.NoError(t, w.WriteVector(v))
		require.NoError(t, w.Flush())

		r, err := NewReader(&buf)
		require.NoError(t, err)
		gm, err := r.ReadMatrix()
		require.NoError(t, err)
		assert.Equal(t, m.RawMatrix().Data, gm.RawMatrix().Data)
		gv, err := r.ReadVector()
		require.NoError(t, err)
		assert.Equal(t, v.RawVector().Data, gv.RawVector().Data)
	}
}

func TestStreamMatrixTokenGuard(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)
	require.NoError(t, w.WriteVector(mat.NewVecDense(1, []float64{1})))
	require.NoError(t, w.Flush())

	r, err := NewReader(&buf)
	require.NoError(t, err)
	_, err = r.ReadMatrix()
	require.ErrorIs(t, err, ErrUnexpectedToken)
}

func TestStreamCorruptValue(t *testing.T) {
	r, err := NewReader(bytes.NewBufferString("notanumber "))
	require.NoError(t, err)
	_, err = r.ReadInt()
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestStreamPeekToken(t *testing.T) {
	r, err := NewReader(bytes.NewBufferString("<One> <Two> "))
	require.NoError(t, err)

	tok, err := r.PeekToken()
	require.NoError(t, err)
	assert.Equal(t, "<One>", tok)
	// Peek must not consume.
	require.NoError(t, r.ExpectToken("<One>"))
	require.NoError(t, r.ExpectToken("<Two>"))
}

func TestStreamBinaryDetection(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)
	require.NoError(t, w.WriteToken("<T>"))
	require.NoError(t, w.Flush())
	assert.Equal(t, byte(0), buf.Bytes()[0])
	assert.Equal(t, byte('B'), buf.Bytes()[1])

	r, err := NewReader(&buf)
	require.NoError(t, err)
	assert.True(t, r.Binary())

	r, err = NewReader(bytes.NewBufferString("<T> "))
	require.NoError(t, err)
	assert.False(t, r.Binary())
}
