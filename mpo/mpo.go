// Package mpo compiles Hamiltonian terms into matrix product operators.
//
// The W tensor of each site has axes (left, right, up, down), where
// left and right are the virtual bonds and up, down the physical ones.
package mpo

import (
	"fmt"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/fumin/qlattice/lattice"
	"github.com/fumin/qlattice/site"
)

// Axes of a W tensor.
const (
	LeftAxis  = 0
	RightAxis = 1
	UpAxis    = 2
	DownAxis  = 3
)

// MPO is a matrix product operator.
type MPO struct {
	Sites []*site.Site
	Ws    []*tensor.Dense
	// BC is lattice.Finite or lattice.Infinite.
	BC string
	// IdL[b] is the virtual index on bond b of the channel where no
	// term has started yet, and IdR[b] of the channel where all terms
	// have finished. Both have length len(Sites)+1, and for infinite
	// chains entry len(Sites) repeats entry 0.
	IdL []int
	IdR []int
	// MaxRange is the largest site distance spanned by a single term.
	MaxRange int
	// ExplicitPlusHC marks operators storing only half of a hermitian
	// Hamiltonian, whose conjugate is added back during evaluation.
	ExplicitPlusHC bool
}

// EnlargeUnitCell repeats the unit cell of an infinite MPO factor times.
func (h *MPO) EnlargeUnitCell(factor int) error {
	if factor < 1 {
		return errors.Errorf("factor %d", factor)
	}
	if h.BC != lattice.Infinite {
		return errors.Errorf("cannot enlarge the unit cell of a %s MPO", h.BC)
	}
	n := len(h.Sites)
	sites := make([]*site.Site, 0, factor*n)
	ws := make([]*tensor.Dense, 0, factor*n)
	idls := make([]int, 0, factor*n+1)
	idrs := make([]int, 0, factor*n+1)
	for k := 0; k < factor; k++ {
		sites = append(sites, h.Sites...)
		ws = append(ws, h.Ws...)
		idls = append(idls, h.IdL[:n]...)
		idrs = append(idrs, h.IdR[:n]...)
	}
	h.Sites, h.Ws = sites, ws
	h.IdL = append(idls, h.IdL[0])
	h.IdR = append(idrs, h.IdR[0])
	return nil
}

// GroupSites contracts the W tensors of n consecutive sites at a time
// into the W tensors of an MPO over the grouped sites.
func (h *MPO) GroupSites(n int, grouped []*site.Site) error {
	if n < 1 {
		return errors.Errorf("n %d", n)
	}
	L := len(h.Sites)
	starts := make([]int, 0, (L+n-1)/n)
	for i := 0; i < L; i += n {
		starts = append(starts, i)
	}
	if len(grouped) != len(starts) {
		return errors.Errorf("%d grouped sites, %d groups", len(grouped), len(starts))
	}

	ws := make([]*tensor.Dense, 0, len(starts))
	idls := make([]int, 0, len(starts)+1)
	idrs := make([]int, 0, len(starts)+1)
	buf := tensor.Zeros(1)
	for k, i0 := range starts {
		end := min(i0+n, L)
		d := 1
		// cur has axes (left, p_{i0}, p*_{i0}, ..., p_{j-1}, p*_{j-1}, right).
		cur := resetCopy(tensor.Zeros(1), h.Ws[i0].Transpose(LeftAxis, UpAxis, DownAxis, RightAxis))
		d *= h.Sites[i0].Dim()
		for j := i0 + 1; j < end; j++ {
			nAxes := len(cur.Shape())
			cur = resetCopy(tensor.Zeros(1), tensor.Product(buf, cur, h.Ws[j], [][2]int{{nAxes - 1, LeftAxis}}))
			// Move the new right bond behind the physical axes.
			nAxes = len(cur.Shape())
			perm := make([]int, 0, nAxes)
			for a := 0; a < nAxes-3; a++ {
				perm = append(perm, a)
			}
			perm = append(perm, nAxes-2, nAxes-1, nAxes-3)
			cur = resetCopy(tensor.Zeros(1), cur.Transpose(perm...))
			d *= h.Sites[j].Dim()
		}
		if grouped[k].Dim() != d {
			return errors.Errorf("group %d has dimension %d, grouped site %d", k, d, grouped[k].Dim())
		}

		// Combine the physical axes, ups first, then downs.
		nAxes := len(cur.Shape())
		perm := make([]int, 0, nAxes)
		perm = append(perm, 0, nAxes-1)
		for a := 1; a < nAxes-1; a += 2 {
			perm = append(perm, a)
		}
		for a := 2; a < nAxes-1; a += 2 {
			perm = append(perm, a)
		}
		cur = resetCopy(tensor.Zeros(1), cur.Transpose(perm...))
		shape := cur.Shape()
		ws = append(ws, cur.Reshape(shape[0], shape[1], d, d))

		idls = append(idls, h.IdL[i0])
		idrs = append(idrs, h.IdR[i0])
	}
	idls = append(idls, h.IdL[L])
	idrs = append(idrs, h.IdR[L])

	h.Sites = grouped
	h.Ws = ws
	h.IdL, h.IdR = idls, idrs
	h.MaxRange = (h.MaxRange + n - 1) / n
	return nil
}

// Full contracts a finite MPO into its dense matrix with row and
// column indices running over the full many body basis.
func (h *MPO) Full() (*tensor.Dense, error) {
	if h.BC != lattice.Finite {
		return nil, errors.Errorf("cannot contract a %s MPO", h.BC)
	}
	L := len(h.Sites)
	buf := tensor.Zeros(1)

	// cur has axes (up, down, right), with up and down over the sites contracted so far.
	w0 := h.Ws[0]
	s := w0.Shape()
	cur := resetCopy(tensor.Zeros(1), w0.Slice([][2]int{{h.IdL[0], h.IdL[0] + 1}, {0, s[1]}, {0, s[2]}, {0, s[3]}}))
	cur = resetCopy(tensor.Zeros(1), cur.Reshape(s[1], s[2], s[3]).Transpose(1, 2, 0))
	d := s[2]
	for i := 1; i < L; i++ {
		cur = resetCopy(tensor.Zeros(1), tensor.Product(buf, cur, h.Ws[i], [][2]int{{2, LeftAxis}}))
		// cur axes are now (up, down, right, upI, downI).
		cur = resetCopy(tensor.Zeros(1), cur.Transpose(0, 3, 1, 4, 2))
		di := h.Sites[i].Dim()
		shape := cur.Shape()
		cur = cur.Reshape(d*di, d*di, shape[4])
		d *= di
	}
	idr := h.IdR[L]
	full := resetCopy(tensor.Zeros(1), cur.Slice([][2]int{{0, d}, {0, d}, {idr, idr + 1}}))
	return full.Reshape(d, d), nil
}

func (h *MPO) String() string {
	chis := make([]int, 0, len(h.Ws))
	for _, w := range h.Ws {
		chis = append(chis, w.Shape()[RightAxis])
	}
	return fmt.Sprintf("mpo(L=%d, bc=%s, chi=%v)", len(h.Sites), h.BC, chis)
}

func resetCopy(dst, src *tensor.Dense) *tensor.Dense {
	shape := src.Shape()
	zeroDigit := make([]int, len(shape))
	dst.Reset(shape...).Set(zeroDigit, src)
	return dst
}
