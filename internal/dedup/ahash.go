package dedup

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
)

// ahashSize is the side length of the grayscale grid the perceptual hash is
// computed over, giving an 8x8=64-bit fingerprint — one uint64.
const ahashSize = 8

// perceptualHash computes a deterministic 64-bit average hash (aHash) for
// image bytes read from r: downscale to an 8x8 grayscale grid, compare each
// cell to the grid's mean luminance, and set one bit per cell. Identical
// input bytes always produce the same hash; no external imaging library is
// available anywhere in the retrieved pack, so this is implemented directly
// against image/*'s stdlib decoders.
func perceptualHash(r io.Reader) (uint64, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return 0, err
	}

	grid := shrinkToGrayGrid(img, ahashSize, ahashSize)

	var sum int
	for _, v := range grid {
		sum += int(v)
	}
	mean := sum / len(grid)

	var hash uint64
	for i, v := range grid {
		if int(v) >= mean {
			hash |= 1 << uint(i)
		}
	}
	return hash, nil
}

// shrinkToGrayGrid resamples img to a w x h grid of luminance values using
// nearest-neighbor sampling in source space — adequate for a hash that only
// needs relative comparisons, not visual fidelity.
func shrinkToGrayGrid(img image.Image, w, h int) []uint8 {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	out := make([]uint8, w*h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx := bounds.Min.X + x*srcW/w
			sy := bounds.Min.Y + y*srcH/h
			r, g, b, _ := img.At(sx, sy).RGBA()
			// Rec. 601 luma approximation; inputs are 16-bit per channel.
			lum := (299*r + 587*g + 114*b) / 1000
			out[y*w+x] = uint8(lum >> 8)
		}
	}
	return out
}

// hammingDistance64 returns the number of differing bits between a and b.
func hammingDistance64(a, b uint64) int {
	x := a ^ b
	count := 0
	for x != 0 {
		x &= x - 1
		count++
	}
	return count
}
