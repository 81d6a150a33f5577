package testbed

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// TextureSize is the edge length of the uploaded texture. It must match the
// size constant of checker.frag.
const TextureSize = 64

// checkerTexels draws a cells x cells checkerboard and scales it to a
// TextureSize square, returning tightly packed RGBA8 rows.
func checkerTexels(cells int, a, b color.RGBA) []byte {
	src := image.NewRGBA(image.Rect(0, 0, cells, cells))
	for y := 0; y < cells; y++ {
		for x := 0; x < cells; x++ {
			c := a
			if (x+y)%2 == 1 {
				c = b
			}
			src.SetRGBA(x, y, c)
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, TextureSize, TextureSize))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst.Pix
}
