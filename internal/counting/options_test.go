package counting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions("", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, StrategySideChange, opts.Strategy)
	assert.NotNil(t, opts.SideTest)

	opts, err = ParseOptions("path_intersection", "closest_segment", "Person", []string{"Person", "Child"})
	require.NoError(t, err)
	assert.Equal(t, StrategyPathIntersection, opts.Strategy)
	assert.Equal(t, []string{"Person", "Child"}, opts.ClassNames)

	_, err = NewClassifier(testLines(), opts)
	require.NoError(t, err)
}

func TestParseOptions_Invalid(t *testing.T) {
	_, err := ParseOptions("zigzag", "", "", nil)
	assert.Error(t, err)

	_, err = ParseOptions("side_change", "nearest", "", nil)
	assert.Error(t, err)
}
