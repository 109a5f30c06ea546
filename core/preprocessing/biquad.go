package preprocessing

import "math"

// biquad is a second order Butterworth high-pass section in transposed
// direct form II. The two delay registers persist across chunks so filtering
// is continuous over a whole session.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

func newHighPass(cutoffHz float64, sampleRate int) *biquad {
	w0 := 2 * math.Pi * cutoffHz / float64(sampleRate)
	cosw0 := math.Cos(w0)
	q := 1 / math.Sqrt2
	alpha := math.Sin(w0) / (2 * q)

	a0 := 1 + alpha
	return &biquad{
		b0: (1 + cosw0) / 2 / a0,
		b1: -(1 + cosw0) / a0,
		b2: (1 + cosw0) / 2 / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}
}

func (f *biquad) apply(samples []float64) []float64 {
	for i, x := range samples {
		y := f.b0*x + f.z1
		f.z1 = f.b1*x - f.a1*y + f.z2
		f.z2 = f.b2*x - f.a2*y
		samples[i] = y
	}
	return samples
}
