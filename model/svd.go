package model

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/fumin/tensor"
)

// svd computes the singular value decomposition a = u diag(s) vh of an
// m x n matrix by one-sided Jacobi rotations on the columns.
// u is m x n, s has length n in descending order, and vh is n x n.
// One-sided Jacobi is accurate for the small matrices arising from two
// site bond operators, where cubic scaling in n does not matter.
func svd(a *tensor.Dense) (*tensor.Dense, []float64, *tensor.Dense) {
	shape := a.Shape()
	m, n := shape[0], shape[1]
	g := make([][]complex128, n)
	v := make([][]complex128, n)
	for j := 0; j < n; j++ {
		g[j] = make([]complex128, m)
		for i := 0; i < m; i++ {
			g[j][i] = complex128(a.At(i, j))
		}
		v[j] = make([]complex128, n)
		v[j][j] = 1
	}

	const maxSweeps = 64
	for sweep := 0; sweep < maxSweeps; sweep++ {
		off := 0.0
		for p := 0; p < n-1; p++ {
			for q := p + 1; q < n; q++ {
				app, aqq := colNorm2(g[p]), colNorm2(g[q])
				if app == 0 || aqq == 0 {
					continue
				}
				apq := colDot(g[p], g[q])
				alpha := cmplx.Abs(apq)
				if alpha <= 1e-15*math.Sqrt(app*aqq) {
					continue
				}
				off = math.Max(off, alpha/math.Sqrt(app*aqq))

				// Absorb the phase of the cross term into column q,
				// reducing to a real rotation.
				phase := apq / complex(alpha, 0)
				scaleCol(g[q], cmplx.Conj(phase))
				scaleCol(v[q], cmplx.Conj(phase))

				tau := (aqq - app) / (2 * alpha)
				t := 1 / (math.Abs(tau) + math.Sqrt(1+tau*tau))
				if tau < 0 {
					t = -t
				}
				c := 1 / math.Sqrt(1+t*t)
				s := c * t
				rotateCols(g[p], g[q], c, s)
				rotateCols(v[p], v[q], c, s)
			}
		}
		if off < 1e-14 {
			break
		}
	}

	norms := make([]float64, n)
	order := make([]int, n)
	for j := 0; j < n; j++ {
		norms[j] = math.Sqrt(colNorm2(g[j]))
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool { return norms[order[a]] > norms[order[b]] })

	u := tensor.Zeros(m, n)
	vh := tensor.Zeros(n, n)
	s := make([]float64, n)
	for k, j := range order {
		s[k] = norms[j]
		if norms[j] > 0 {
			for i := 0; i < m; i++ {
				u.SetAt([]int{i, k}, complex64(g[j][i]/complex(norms[j], 0)))
			}
		}
		for i := 0; i < n; i++ {
			vh.SetAt([]int{k, i}, complex64(cmplx.Conj(v[j][i])))
		}
	}
	return u, s, vh
}

// svdSplit factors the matrix mt into x @ yz, dropping singular values
// of magnitude at most tol. A nil x means mt is numerically zero.
func svdSplit(mt *tensor.Dense, tol float64) (*tensor.Dense, *tensor.Dense) {
	u, s, vh := svd(mt)
	k := 0
	for _, sv := range s {
		if sv > tol {
			k++
		}
	}
	if k == 0 {
		return nil, nil
	}
	shape := mt.Shape()
	m, n := shape[0], shape[1]
	x := tensor.Zeros(m, k)
	for i := 0; i < m; i++ {
		for j := 0; j < k; j++ {
			x.SetAt([]int{i, j}, u.At(i, j))
		}
	}
	yz := tensor.Zeros(k, n)
	for i := 0; i < k; i++ {
		for j := 0; j < n; j++ {
			yz.SetAt([]int{i, j}, complex64(complex(s[i], 0))*vh.At(i, j))
		}
	}
	return x, yz
}

func colNorm2(x []complex128) float64 {
	sum := 0.0
	for _, v := range x {
		sum += real(v)*real(v) + imag(v)*imag(v)
	}
	return sum
}

// colDot is the inner product conj(x) . y.
func colDot(x, y []complex128) complex128 {
	var sum complex128
	for i, v := range x {
		sum += cmplx.Conj(v) * y[i]
	}
	return sum
}

func scaleCol(x []complex128, c complex128) {
	for i := range x {
		x[i] *= c
	}
}

func rotateCols(x, y []complex128, c, s float64) {
	for i := range x {
		xi, yi := x[i], y[i]
		x[i] = complex(c, 0)*xi - complex(s, 0)*yi
		y[i] = complex(s, 0)*xi + complex(c, 0)*yi
	}
}
