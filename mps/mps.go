// Package mps evaluates matrix product operators on matrix product states.
//
// References:
//   - The density-matrix renormalization group in the age of matrix product states, Ulrich Schollwock
package mps

import (
	"fmt"
	"math/cmplx"
	"math/rand/v2"
	"slices"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/fumin/qlattice/lattice"
	"github.com/fumin/qlattice/mpo"
	"github.com/fumin/qlattice/site"
)

const (
	// mpsLeftAxis is the axis of a_{l-1} in Figure 6, Ulrich Schollwock.
	mpsLeftAxis  = 0
	mpsUpAxis    = 1
	mpsRightAxis = 2
)

// FromDense creates a matrix product representation of a general state
// by successive QR decompositions.
func FromDense(state *tensor.Dense, bufs [2]*tensor.Dense) []*tensor.Dense {
	shape := state.Shape()

	sites := make([]*tensor.Dense, 0, len(shape))
	var leftD int = 1
	for _, physD := range shape[:len(shape)-1] {
		q := tensor.Zeros(1)
		r := tensor.QR(q, state.Reshape(leftD*physD, -1), bufs)

		leftD = r.Shape()[0]
		state = r

		sites = append(sites, q.Reshape(-1, physD, leftD))
	}

	state = state.Reshape(leftD, shape[len(shape)-1], 1)
	sites = append(sites, resetCopy(tensor.Zeros(1), state))

	return sites
}

// ProductState creates the product state with the given local basis state on each site.
func ProductState(sites []*site.Site, states []int) ([]*tensor.Dense, error) {
	if len(states) != len(sites) {
		return nil, errors.Errorf("%d basis states, %d sites", len(states), len(sites))
	}
	ms := make([]*tensor.Dense, 0, len(sites))
	for i, s := range sites {
		if states[i] < 0 || states[i] >= s.Dim() {
			return nil, errors.Errorf("basis state %d out of site %s", states[i], s)
		}
		m := tensor.Zeros(1, s.Dim(), 1)
		m.SetAt([]int{0, states[i], 0}, 1)
		ms = append(ms, m)
	}
	return ms, nil
}

// RandMPS creates a random matrix product state over the given sites.
// maxD is the maximum bond dimension, which is D in the discussion below
// equation 71 in section 4.1.4, Ulrich Schollwock.
func RandMPS(sites []*site.Site, maxD int) []*tensor.Dense {
	ms := make([]*tensor.Dense, 0, len(sites))

	// First site.
	physD := sites[0].Dim()
	leftD := physD
	ms = append(ms, randTensor(1, physD, min(physD, maxD)))

	for i := 1; i <= len(sites)-2; i++ {
		physD := sites[i].Dim()
		var rightD int
		switch {
		case i < len(sites)/2:
			rightD = leftD * physD
		case i > len(sites)/2:
			rightD = leftD / physD
		case len(sites)%2 == 0:
			rightD = leftD / physD
		default:
			rightD = leftD
		}
		leftD = rightD

		si1 := ms[i-1].Shape()
		ms = append(ms, randTensor(si1[mpsRightAxis], physD, max(min(rightD, maxD), 1)))
	}

	// Last site.
	physD = sites[len(sites)-1].Dim()
	si1 := ms[len(sites)-2].Shape()
	ms = append(ms, randTensor(si1[mpsRightAxis], physD, 1))

	return ms
}

// InnerProduct computes the inner product between x and y.
// See Section 4.2.1 Efficient evaluation of contractions, Ulrich Schollwock.
func InnerProduct(x, y []*tensor.Dense, bufs [2]*tensor.Dense) complex64 {
	if len(x) != len(y) {
		panic(fmt.Sprintf("%d %d", len(x), len(y)))
	}

	f := ones(bufs[0], 1, 1)
	const fTopAxis, fBottomAxis = 0, 1
	for i, xi := range x {
		yi := y[i]

		fyi := tensor.Product(bufs[1], f, yi, [][2]int{{fBottomAxis, mpsLeftAxis}})
		tensor.Product(f, xi.Conj(), fyi, [][2]int{{mpsLeftAxis, fTopAxis}, {mpsUpAxis, mpsUpAxis}})
	}

	if !slices.Equal(f.Shape(), []int{1, 1}) {
		panic(fmt.Sprintf("%#v", f.Shape()))
	}
	return f.At(0, 0)
}

// ExpectationMPO computes <x|h|x> / <x|x> of a finite MPO by a left to
// right contraction walk, entering through the IdL channel of bond 0
// and leaving through the IdR channel of the last bond.
// See Equation 192, Section 6.2, Ulrich Schollwock.
func ExpectationMPO(h *mpo.MPO, ms []*tensor.Dense, bufs [2]*tensor.Dense) (complex64, error) {
	if h.BC != lattice.Finite {
		return 0, errors.Errorf("cannot contract a %s MPO", h.BC)
	}
	if len(h.Ws) != len(ms) {
		return 0, errors.Errorf("%d MPO sites, %d MPS sites", len(h.Ws), len(ms))
	}

	chi0 := h.Ws[0].Shape()[mpo.LeftAxis]
	fa := tensor.Zeros(1, chi0, 1)
	fa.SetAt([]int{0, h.IdL[0], 0}, 1)
	fb := tensor.Zeros(1)
	for i, w := range h.Ws {
		lExpression(fb, fa, w, ms[i], bufs[:])
		fa, fb = fb, fa
	}

	e := fa.At(0, h.IdR[len(h.Ws)], 0)
	if h.ExplicitPlusHC {
		e += conj(e)
	}
	return e / InnerProduct(ms, ms, bufs), nil
}

// BondEnergies computes <x|hbond[j]|x> / <x|x> for each bond tensor,
// where hbond[j] acts on the site pair (j-1, j).
// Nil bonds yield zero.
func BondEnergies(hbond []*tensor.Dense, ms []*tensor.Dense, bufs [2]*tensor.Dense) ([]complex64, error) {
	if len(hbond) != len(ms) {
		return nil, errors.Errorf("%d bonds, %d MPS sites", len(hbond), len(ms))
	}
	norm := InnerProduct(ms, ms, bufs)
	es := make([]complex64, len(hbond))
	for j, hb := range hbond {
		if hb == nil {
			continue
		}
		if j == 0 {
			return nil, errors.Errorf("bond 0 wraps around the finite chain")
		}
		es[j] = expectationTwoSite(ms, j-1, hb, bufs) / norm
	}
	return es, nil
}

// expectationTwoSite computes <x|op|x> of a two site operator with
// axes (p_i, p_{i+1}, p*_i, p*_{i+1}).
func expectationTwoSite(ms []*tensor.Dense, i int, op *tensor.Dense, bufs [2]*tensor.Dense) complex64 {
	// fa is of shape {fTop, fBot}, with fTop on the conjugated side.
	fa := ones(tensor.Zeros(1), 1, 1)
	fb := tensor.Zeros(1)
	walk := func(k int) {
		fyi := tensor.Product(bufs[0], fa, ms[k], [][2]int{{1, mpsLeftAxis}})
		tensor.Product(fb, ms[k].Conj(), fyi, [][2]int{{mpsLeftAxis, 0}, {mpsUpAxis, mpsUpAxis}})
		fa, fb = fb, fa
	}
	for k := 0; k < i; k++ {
		walk(k)
	}

	// t is of shape {left, p_i, p_{i+1}, right}.
	t := tensor.Product(bufs[0], ms[i], ms[i+1], [][2]int{{mpsRightAxis, mpsLeftAxis}})
	// ft is of shape {fTop, p_i, p_{i+1}, right}.
	ft := tensor.Product(bufs[1], fa, t, [][2]int{{1, 0}})
	// ot is of shape {p_i, p_{i+1}, fTop, right}.
	ot := tensor.Product(bufs[0], op, ft, [][2]int{{2, 1}, {3, 2}})
	// tc is of shape {left.conj, p_i.conj, p_{i+1}.conj, right.conj}.
	tc := tensor.Product(bufs[1], ms[i].Conj(), ms[i+1].Conj(), [][2]int{{mpsRightAxis, mpsLeftAxis}})
	// The new fa is of shape {right.conj, right}.
	tensor.Product(fb, tc, ot, [][2]int{{0, 2}, {1, 0}, {2, 1}})
	fa, fb = fb, fa

	for k := i + 2; k < len(ms); k++ {
		walk(k)
	}
	return fa.At(0, 0)
}

func conj(x complex64) complex64 {
	return complex64(cmplx.Conj(complex128(x)))
}

func lExpression(fi, fi1, w, m *tensor.Dense, bufs []*tensor.Dense) *tensor.Dense {
	// fi1 is of shape {fTop, fMid, fBot}.
	// fm is of shape {fTop, fMid, mpsTop, mpsRight}.
	fm := tensor.Product(bufs[0], fi1, m, [][2]int{{2, mpsLeftAxis}})

	// wfm is of shape {mpoRight, mpoUp, fTop, mpsRight}.
	wfm := tensor.Product(bufs[1], w, fm, [][2]int{{mpo.DownAxis, 2}, {mpo.LeftAxis, 1}})

	// fi is of shape {mpsRight.conj, mpoRight, mpsRight}.
	tensor.Product(fi, m.Conj(), wfm, [][2]int{{mpsLeftAxis, 2}, {mpsUpAxis, 1}})

	return fi
}

func resetCopy(dst, src *tensor.Dense) *tensor.Dense {
	shape := src.Shape()
	zeroDigit := make([]int, len(shape))
	dst.Reset(shape...).Set(zeroDigit, src)
	return dst
}

func ones(t *tensor.Dense, shape ...int) *tensor.Dense {
	t.Reset(shape...)
	for ijk := range t.All() {
		t.SetAt(ijk, 1)
	}
	return t
}

func randTensor(shape ...int) *tensor.Dense {
	t := tensor.Zeros(shape...)
	for ijk := range t.All() {
		v := complex(rand.Float32()*2-1, rand.Float32()*2-1)
		t.SetAt(ijk, v)
	}
	return t
}
