package recognition

import (
	"image"
	"math"
)

const (
	lbpEpsilon  = 1.1920929e-07 // float32 machine epsilon
	histEpsilon = 2.220446049250313e-16
)

// elbp computes extended (circular) local binary pattern codes with bilinear
// interpolation of the sampling points. The result has a border of radius
// pixels trimmed on every side.
func elbp(src *image.Gray, radius, neighbors int) (codes []int, cols, rows int) {
	b := src.Bounds()
	cols = b.Dx() - 2*radius
	rows = b.Dy() - 2*radius
	if cols <= 0 || rows <= 0 {
		return nil, 0, 0
	}
	codes = make([]int, cols*rows)

	at := func(x, y int) float64 {
		return float64(src.Pix[(y-b.Min.Y)*src.Stride+(x-b.Min.X)])
	}

	for n := 0; n < neighbors; n++ {
		x := float64(radius) * math.Cos(2*math.Pi*float64(n)/float64(neighbors))
		y := -float64(radius) * math.Sin(2*math.Pi*float64(n)/float64(neighbors))

		fx, fy := int(math.Floor(x)), int(math.Floor(y))
		cx, cy := int(math.Ceil(x)), int(math.Ceil(y))

		ty := y - float64(fy)
		tx := x - float64(fx)

		w1 := (1 - tx) * (1 - ty)
		w2 := tx * (1 - ty)
		w3 := (1 - tx) * ty
		w4 := tx * ty

		for i := radius; i < b.Dy()-radius; i++ {
			for j := radius; j < b.Dx()-radius; j++ {
				px, py := b.Min.X+j, b.Min.Y+i
				t := w1*at(px+fx, py+fy) + w2*at(px+cx, py+fy) +
					w3*at(px+fx, py+cy) + w4*at(px+cx, py+cy)
				center := at(px, py)
				if t > center || math.Abs(t-center) < lbpEpsilon {
					codes[(i-radius)*cols+(j-radius)] |= 1 << n
				}
			}
		}
	}
	return codes, cols, rows
}

// spatialHistogram splits the code image into a gridX by gridY grid and
// concatenates one normalized histogram of 2^neighbors bins per cell.
// Trailing pixels that do not fill a whole cell are ignored.
func spatialHistogram(codes []int, cols, rows, neighbors, gridX, gridY int) []float32 {
	bins := 1 << neighbors
	hist := make([]float32, gridX*gridY*bins)

	width := cols / gridX
	height := rows / gridY
	if width == 0 || height == 0 {
		return hist
	}
	total := float32(width * height)

	cell := 0
	for i := 0; i < gridY; i++ {
		for j := 0; j < gridX; j++ {
			off := cell * bins
			for y := i * height; y < (i+1)*height; y++ {
				row := codes[y*cols:]
				for x := j * width; x < (j+1)*width; x++ {
					hist[off+row[x]]++
				}
			}
			for k := 0; k < bins; k++ {
				hist[off+k] /= total
			}
			cell++
		}
	}
	return hist
}

// chiSquare is the symmetric chi-square distance 2 * sum((a-b)^2 / (a+b)).
func chiSquare(a, b []float32) float64 {
	var result float64
	for i := range a {
		sum := float64(a[i]) + float64(b[i])
		if math.Abs(sum) > histEpsilon {
			diff := float64(a[i]) - float64(b[i])
			result += diff * diff / sum
		}
	}
	return 2 * result
}
