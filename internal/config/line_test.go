package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineTypedLookups(t *testing.T) {
	l, err := ParseLine("input-x-dim=8 param-stddev=0.25 use-bias=true name=conv1")
	require.NoError(t, err)

	var i int
	require.True(t, l.IntValue("input-x-dim", &i))
	assert.Equal(t, 8, i)

	var f float64
	require.True(t, l.FloatValue("param-stddev", &f))
	assert.Equal(t, 0.25, f)

	var b bool
	require.True(t, l.BoolValue("use-bias", &b))
	assert.True(t, b)

	var s string
	require.True(t, l.StringValue("name", &s))
	assert.Equal(t, "conv1", s)
}

func TestParseLineDefaultsStayPut(t *testing.T) {
	l, err := ParseLine("input-x-dim=8")
	require.NoError(t, err)

	i := 7
	assert.False(t, l.IntValue("input-num-filters", &i))
	assert.Equal(t, 7, i, "absent key must leave the default")
}

func TestParseLineUnusedValues(t *testing.T) {
	l, err := ParseLine("input-x-dim=8 self-repair-scale=0.1")
	require.NoError(t, err)

	var i int
	l.IntValue("input-x-dim", &i)
	assert.True(t, l.HasUnusedValues())
	assert.Equal(t, "self-repair-scale=0.1", l.UnusedValues())

	var f float64
	l.FloatValue("self-repair-scale", &f)
	assert.False(t, l.HasUnusedValues())
}

func TestParseLineQuotedValue(t *testing.T) {
	l, err := ParseLine(`matrix="some file.mat" input-x-dim=4`)
	require.NoError(t, err)

	var s string
	require.True(t, l.StringValue("matrix", &s))
	assert.Equal(t, "some file.mat", s)

	var i int
	require.True(t, l.IntValue("input-x-dim", &i))
	assert.Equal(t, 4, i)
}

func TestParseLineErrors(t *testing.T) {
	_, err := ParseLine("bare-token input-x-dim=8")
	require.Error(t, err)

	_, err = ParseLine("input-x-dim=8 input-x-dim=9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	_, err = ParseLine(`matrix="unterminated`)
	require.Error(t, err)
}

func TestParseLineWholeLine(t *testing.T) {
	line := "input-x-dim=8 num-filters=4"
	l, err := ParseLine(line)
	require.NoError(t, err)
	assert.Equal(t, line, l.WholeLine())
}
