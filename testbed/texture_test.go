package testbed

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerTexels(t *testing.T) {
	white := color.RGBA{255, 255, 255, 255}
	red := color.RGBA{200, 20, 20, 255}
	pix := checkerTexels(8, white, red)
	require.Len(t, pix, TextureSize*TextureSize*4)

	at := func(x, y int) color.RGBA {
		i := (y*TextureSize + x) * 4
		return color.RGBA{pix[i], pix[i+1], pix[i+2], pix[i+3]}
	}
	cell := TextureSize / 8
	assert.Equal(t, white, at(0, 0))
	assert.Equal(t, white, at(cell-1, cell-1))
	assert.Equal(t, red, at(cell, 0))
	assert.Equal(t, red, at(0, cell))
	assert.Equal(t, white, at(cell, cell))
}

func TestSpinMatrix(t *testing.T) {
	m := spin(0, 2)
	assert.Equal(t, [16]float32{0.5, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}, m)
}
