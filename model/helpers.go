package model

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

// tile repeats strength periodically to length n.
func tile(strength []complex64, n int) ([]complex64, error) {
	if len(strength) == 0 {
		return nil, errors.Errorf("empty strength")
	}
	if n%len(strength) != 0 {
		return nil, errors.Errorf("cannot tile %d strengths to %d placements", len(strength), n)
	}
	out := make([]complex64, n)
	for i := range out {
		out[i] = strength[i%len(strength)]
	}
	return out, nil
}

func allZero(strength []complex64) bool {
	for _, s := range strength {
		if s != 0 {
			return false
		}
	}
	return true
}

func halve(strength []complex64) {
	for i := range strength {
		strength[i] /= 2
	}
}

func conjSlice(strength []complex64) []complex64 {
	out := make([]complex64, len(strength))
	for i, s := range strength {
		out[i] = conj(s)
	}
	return out
}

func conj(x complex64) complex64 {
	return complex64(cmplx.Conj(complex128(x)))
}

func absC(c complex64) float64 {
	return cmplx.Abs(complex128(c))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// kron2 builds the two site tensor left x right with axes (p0, p1, p0*, p1*).
func kron2(left, right *tensor.Dense) *tensor.Dense {
	dl, dr := left.Shape()[0], right.Shape()[0]
	t := tensor.Zeros(dl, dr, dl, dr)
	for x0 := 0; x0 < dl; x0++ {
		for y0 := 0; y0 < dl; y0++ {
			for x1 := 0; x1 < dr; x1++ {
				for y1 := 0; y1 < dr; y1++ {
					t.SetAt([]int{x0, x1, y0, y1}, left.At(x0, y0)*right.At(x1, y1))
				}
			}
		}
	}
	return t
}

// kronM is the Kronecker product of square matrices.
func kronM(a, b *tensor.Dense) *tensor.Dense {
	da, db := a.Shape()[0], b.Shape()[0]
	m := tensor.Zeros(da*db, da*db)
	for i := 0; i < da; i++ {
		for j := 0; j < da; j++ {
			for k := 0; k < db; k++ {
				for l := 0; l < db; l++ {
					m.SetAt([]int{i*db + k, j*db + l}, a.At(i, j)*b.At(k, l))
				}
			}
		}
	}
	return m
}

func identity(d int) *tensor.Dense {
	m := tensor.Zeros(d, d)
	for i := 0; i < d; i++ {
		m.SetAt([]int{i, i}, 1)
	}
	return m
}

func addScaled(dst, src *tensor.Dense, c complex64) {
	for ijk, v := range src.All() {
		dst.SetAt(ijk, dst.At(ijk...)+c*v)
	}
}

func scaled(t *tensor.Dense, c complex64) *tensor.Dense {
	s := tensor.Zeros(t.Shape()...)
	addScaled(s, t, c)
	return s
}

func frobNorm(t *tensor.Dense) float64 {
	if t == nil {
		return 0
	}
	sum := 0.0
	for _, v := range t.All() {
		re, im := float64(real(v)), float64(imag(v))
		sum += re*re + im*im
	}
	return math.Sqrt(sum)
}

// hermitian4 is the hermitian conjugate of a two site operator with
// axes (p0, p1, p0*, p1*).
func hermitian4(t *tensor.Dense) *tensor.Dense {
	return resetCopy(tensor.Zeros(1), t.Conj().Transpose(2, 3, 0, 1))
}

func resetCopy(dst, src *tensor.Dense) *tensor.Dense {
	shape := src.Shape()
	zeroDigit := make([]int, len(shape))
	dst.Reset(shape...).Set(zeroDigit, src)
	return dst
}
