package geowarp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAffineApply(t *testing.T) {
	a := Affine{A: 10, C: 100, E: -10, F: 200}

	x, y := a.Apply(0, 0)
	assert.Equal(t, 100.0, x)
	assert.Equal(t, 200.0, y)

	x, y = a.Apply(3, 4)
	assert.Equal(t, 130.0, x)
	assert.Equal(t, 160.0, y)
}

func TestAffineInverse(t *testing.T) {
	a := Affine{A: 10, B: 2, C: 100, D: -1, E: -10, F: 200}
	inv, err := a.Inverse()
	require.NoError(t, err)

	x, y := a.Apply(3.5, 7.25)
	col, row := inv.Apply(x, y)
	assert.InDelta(t, 3.5, col, 1e-9)
	assert.InDelta(t, 7.25, row, 1e-9)

	assert.True(t, a.Multiply(inv).AlmostEqual(IdentityAffine(), 1e-9, 1e-6))
}

func TestAffineNotInvertible(t *testing.T) {
	_, err := Scaling(0, 1).Inverse()
	assert.ErrorIs(t, err, ErrNotInvertible)

	_, err = Affine{A: math.NaN(), E: 1}.Inverse()
	assert.ErrorIs(t, err, ErrNotInvertible)

	assert.False(t, Affine{A: 1, E: math.Inf(1)}.IsInvertible())
	assert.True(t, IdentityAffine().IsInvertible())
}

func TestAffineMultiplyOrder(t *testing.T) {
	// Scaling is applied first, then the translation.
	m := Translation(1, 2).Multiply(Scaling(2, 3))
	x, y := m.Apply(1, 1)
	assert.Equal(t, 3.0, x)
	assert.Equal(t, 5.0, y)

	m = Scaling(2, 3).Multiply(Translation(1, 2))
	x, y = m.Apply(1, 1)
	assert.Equal(t, 4.0, x)
	assert.Equal(t, 9.0, y)
}

func TestAffineGDAL(t *testing.T) {
	gt := [6]float64{500000, 30, 0, 6000000, 0, -30}
	a := AffineFromGDAL(gt)

	assert.Equal(t, Affine{A: 30, C: 500000, E: -30, F: 6000000}, a)
	assert.Equal(t, gt, a.GDAL())
}

func TestAffineRectilinear(t *testing.T) {
	assert.True(t, Scaling(2, -2).IsRectilinear(0))
	assert.False(t, Affine{A: 1, B: 0.1, E: 1}.IsRectilinear(0.01))
	assert.True(t, Affine{A: 1, B: 0.001, E: 1}.IsRectilinear(0.01))
}

func TestAffineString(t *testing.T) {
	assert.Equal(t, "Affine(1, 0, 5, 0, -1, 7)", Affine{A: 1, C: 5, E: -1, F: 7}.String())
}
