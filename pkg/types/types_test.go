package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	t.Run("samples is the product of lengths", func(t *testing.T) {
		assert.Equal(t, 12, NewShape(1, 3, 4).Samples())
		assert.Equal(t, 0, Shape{Components: 1}.Samples())
	})

	t.Run("validate", func(t *testing.T) {
		assert.NoError(t, NewShape(3, 10, 20).Validate())
		assert.Error(t, NewShape(0, 10).Validate())
		assert.Error(t, NewShape(1).Validate())
		assert.Error(t, NewShape(1, 10, 0).Validate())
	})

	t.Run("compatible ignores domain arrangement", func(t *testing.T) {
		assert.True(t, NewShape(1, 4, 6).Compatible(NewShape(1, 24)))
		assert.False(t, NewShape(1, 4, 6).Compatible(NewShape(2, 4, 6)))
		assert.False(t, NewShape(1, 4, 6).Compatible(NewShape(1, 4, 5)))
	})

	assert.Equal(t, "3x10x20", NewShape(3, 10, 20).String())
}

func TestMetadataClone(t *testing.T) {
	m := Metadata{
		Name:       "temperature",
		Units:      []string{"K"},
		Shape:      NewShape(1, 2, 2),
		Attributes: map[string]string{"level": "500hPa"},
	}

	c := m.WithName("temperature_view")
	c.Units[0] = "C"
	c.Shape.Lengths[0] = 9
	c.Attributes["level"] = "850hPa"

	assert.Equal(t, "temperature", m.Name)
	assert.Equal(t, "temperature_view", c.Name)
	assert.Equal(t, "K", m.Units[0])
	assert.Equal(t, 2, m.Shape.Lengths[0])
	assert.Equal(t, "500hPa", m.Attributes["level"])
}

func TestMissingSample(t *testing.T) {
	s := MissingSample(3)
	require.Len(t, s.Values, 3)
	assert.True(t, s.Missing)
	for _, v := range s.Values {
		assert.True(t, math.IsNaN(float64(v)))
	}
}

func TestEmptyRange(t *testing.T) {
	r := EmptyRange()
	assert.True(t, r.IsEmpty())
	assert.False(t, Range{Min: -1, Max: 1}.IsEmpty())
	assert.False(t, Range{Min: 2, Max: 2}.IsEmpty())
}
