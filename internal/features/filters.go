package features

import "math"

// truncate is the kernel half-width in units of sigma.
const truncate = 4.0

// reflect maps an out-of-range index onto [0,n) by half-sample symmetric
// reflection: d c b a | a b c d | d c b a.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

func gaussKernel(sigma float64) []float64 {
	radius := int(truncate*sigma + 0.5)
	k := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
		k[i+radius] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// gaussian blurs a w*h plane with a separable Gaussian of the given sigma.
func gaussian(src []float32, w, h int, sigma float64) []float32 {
	k := gaussKernel(sigma)
	r := len(k) / 2

	tmp := make([]float32, w*h)
	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var acc float64
			for j, kv := range k {
				acc += kv * float64(row[reflect(x+j-r, w)])
			}
			tmp[y*w+x] = float32(acc)
		}
	}

	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for j, kv := range k {
				acc += kv * float64(tmp[reflect(y+j-r, h)*w+x])
			}
			out[y*w+x] = float32(acc)
		}
	}
	return out
}

// sobel returns the normalized Sobel gradient magnitude.
func sobel(src []float32, w, h int) []float32 {
	at := func(x, y int) float64 {
		return float64(src[reflect(y, h)*w+reflect(x, w)])
	}
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := (at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)) -
				(at(x-1, y-1) + 2*at(x-1, y) + at(x-1, y+1))
			gy := (at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)) -
				(at(x-1, y-1) + 2*at(x, y-1) + at(x+1, y-1))
			out[y*w+x] = float32(math.Sqrt((gx*gx+gy*gy)/2) / 4)
		}
	}
	return out
}

// hessianEigen returns the larger and smaller eigenvalue of the Hessian of
// src, estimated with central differences.
func hessianEigen(src []float32, w, h int) (hi, lo []float32) {
	at := func(x, y int) float64 {
		return float64(src[reflect(y, h)*w+reflect(x, w)])
	}
	hi = make([]float32, w*h)
	lo = make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := at(x, y)
			hxx := at(x+1, y) - 2*c + at(x-1, y)
			hyy := at(x, y+1) - 2*c + at(x, y-1)
			hxy := (at(x+1, y+1) - at(x+1, y-1) - at(x-1, y+1) + at(x-1, y-1)) / 4
			mean := (hxx + hyy) / 2
			d := math.Sqrt((hxx-hyy)*(hxx-hyy)/4 + hxy*hxy)
			hi[y*w+x] = float32(mean + d)
			lo[y*w+x] = float32(mean - d)
		}
	}
	return hi, lo
}
