package model

import (
	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/fumin/qlattice/lattice"
	"github.com/fumin/qlattice/mpo"
)

// CalcHMPOFromBond compiles the bond tensors in HBond into a matrix
// product operator. Each bond is first reduced by projecting out the
// parts acting trivially on one of its sites, then split by a singular
// value decomposition into per channel operator pairs.
// Contributions of norm at most tol are treated as zero.
func (m *Model) CalcHMPOFromBond(tol float64) (*mpo.MPO, error) {
	if m.HBond == nil {
		return nil, errors.Errorf("no bond tensors, call CalcHBond first")
	}
	sites := m.lat.MPSSites()
	n := len(sites)
	finite := m.lat.BCMPS() == lattice.Finite
	if len(m.HBond) != n {
		return nil, errors.Errorf("%d bonds, %d sites", len(m.HBond), n)
	}

	onsite := make([]*tensor.Dense, n)
	// xs[b] and yzs[b] are the coupling channels crossing bond b,
	// xs[b] acting on site b-1 and yzs[b] on site b.
	xs := make([]*tensor.Dense, n)
	yzs := make([]*tensor.Dense, n)
	chis := make([]int, n+1)
	for b := range chis {
		chis[b] = 2
	}

	for j, stored := range m.HBond {
		if stored == nil {
			continue
		}
		if finite && j == 0 {
			return nil, errors.Errorf("bond 0 wraps around the finite chain")
		}
		i := (j - 1 + n) % n
		dL, dR := sites[i].Dim(), sites[j].Dim()
		hb := resetCopy(tensor.Zeros(1), stored)

		// Project out the onsite parts by partial traces.
		onsiteL := tensor.Zeros(dL, dL)
		for a := 0; a < dL; a++ {
			for c := 0; c < dL; c++ {
				var sum complex64
				for b := 0; b < dR; b++ {
					sum += hb.At(a, b, c, b)
				}
				onsiteL.SetAt([]int{a, c}, sum/complex(float32(dR), 0))
			}
		}
		if frobNorm(onsiteL) > tol {
			addScaled(hb, kron2(onsiteL, identity(dR)), -1)
			accumulateOnsite(onsite, i, onsiteL)
		}
		onsiteR := tensor.Zeros(dR, dR)
		for b := 0; b < dR; b++ {
			for d := 0; d < dR; d++ {
				var sum complex64
				for a := 0; a < dL; a++ {
					sum += hb.At(a, b, a, d)
				}
				onsiteR.SetAt([]int{b, d}, sum/complex(float32(dL), 0))
			}
		}
		if frobNorm(onsiteR) > tol {
			addScaled(hb, kron2(identity(dL), onsiteR), -1)
			accumulateOnsite(onsite, j, onsiteR)
		}
		if frobNorm(hb) <= tol {
			continue
		}

		// mt[(a c), (b d)] = hb[a, b, c, d].
		mt := resetCopy(tensor.Zeros(1), hb.Transpose(0, 2, 1, 3)).Reshape(dL*dL, dR*dR)
		x, yz := svdSplit(mt, tol)
		if x == nil {
			continue
		}
		xs[j], yzs[j] = x, yz
		chis[j] = x.Shape()[1] + 2
	}
	if !finite {
		chis[n] = chis[0]
	}

	ws := make([]*tensor.Dense, n)
	maxRange := 0
	for i := 0; i < n; i++ {
		d := sites[i].Dim()
		chiL, chiR := chis[i], chis[i+1]
		w := tensor.Zeros(chiL, chiR, d, d)
		id := identity(d)
		setBlock(w, 0, 0, id)
		setBlock(w, chiL-1, chiR-1, id)
		if onsite[i] != nil && frobNorm(onsite[i]) > tol {
			setBlock(w, 0, chiR-1, onsite[i])
		}
		// Channels entering site i complete at IdR.
		if yz := yzs[i]; yz != nil {
			k := yz.Shape()[0]
			for c := 0; c < k; c++ {
				for p := 0; p < d; p++ {
					for q := 0; q < d; q++ {
						w.SetAt([]int{1 + c, chiR - 1, p, q}, yz.At(c, p*d+q))
					}
				}
			}
			maxRange = 1
		}
		// Channels leaving site i start at IdL.
		if x := xs[(i+1)%n]; x != nil {
			k := x.Shape()[1]
			for c := 0; c < k; c++ {
				for p := 0; p < d; p++ {
					for q := 0; q < d; q++ {
						w.SetAt([]int{0, 1 + c, p, q}, x.At(p*d+q, c))
					}
				}
			}
		}
		ws[i] = w
	}

	idl := make([]int, n+1)
	idr := make([]int, n+1)
	for b := 0; b <= n; b++ {
		idr[b] = chis[b] - 1
	}
	h := &mpo.MPO{
		Sites:          sites,
		Ws:             ws,
		BC:             m.lat.BCMPS(),
		IdL:            idl,
		IdR:            idr,
		MaxRange:       maxRange,
		ExplicitPlusHC: m.explicitPlusHC,
	}
	m.HMPO = h
	return h, nil
}

// CalcHBondFromMPO extracts nearest neighbor bond tensors from HMPO
// and stores them in HBond.
// The MPO is consumed channel by channel, and any part left over, such
// as a coupling of range larger than one, is an error.
func (m *Model) CalcHBondFromMPO(tol float64) ([]*tensor.Dense, error) {
	h := m.HMPO
	if h == nil {
		return nil, errors.Errorf("no MPO, call CalcHMPO first")
	}
	n := len(h.Sites)
	finite := h.BC == lattice.Finite

	ws := make([]*tensor.Dense, n)
	honsite := make([]*tensor.Dense, n)
	for i, w := range h.Ws {
		ws[i] = resetCopy(tensor.Zeros(1), w)
		d := h.Sites[i].Dim()
		idLa, idRa := h.IdL[i], h.IdR[i]
		idLb, idRb := h.IdL[i+1], h.IdR[i+1]
		honsite[i] = blockOf(ws[i], idLa, idRb, d)
		zeroBlock(ws[i], idLa, idRb, d)
		zeroBlock(ws[i], idLa, idLb, d)
		zeroBlock(ws[i], idRa, idRb, d)
	}

	hbond := make([]*tensor.Dense, n)
	buf := tensor.Zeros(1)
	for j := 0; j < n; j++ {
		if finite && j == 0 {
			continue
		}
		i := (j - 1 + n) % n
		wi, wj := ws[i], ws[j]
		dI, dJ := h.Sites[i].Dim(), h.Sites[j].Dim()
		chiMid := wi.Shape()[mpo.RightAxis]
		idLa, idRc := h.IdL[i], h.IdR[j+1]

		// The IdL row of wi holds the coupling starts, the IdR column
		// of wj the matching ends.
		row := resetCopy(tensor.Zeros(1), wi.Slice([][2]int{{idLa, idLa + 1}, {0, chiMid}, {0, dI}, {0, dI}})).Reshape(chiMid, dI, dI)
		col := resetCopy(tensor.Zeros(1), wj.Slice([][2]int{{0, chiMid}, {idRc, idRc + 1}, {0, dJ}, {0, dJ}})).Reshape(chiMid, dJ, dJ)
		// hb4 is of shape {p_i, p*_i, p_j, p*_j}.
		hb4 := tensor.Product(buf, row, col, [][2]int{{0, 0}})
		hb := resetCopy(tensor.Zeros(1), hb4.Transpose(0, 2, 1, 3))
		if frobNorm(hb) > tol {
			hbond[j] = hb
		}
		zeroRow(wi, idLa)
		zeroCol(wj, idRc)
	}

	for i, w := range ws {
		if res := frobNorm(w); res > tol {
			return nil, errors.Errorf("site %d has residual %v, not a nearest neighbor Hamiltonian", i, res)
		}
	}

	// Distribute the onsite parts onto the bonds.
	for j := 0; j < n; j++ {
		if finite && j == 0 {
			continue
		}
		i := (j - 1 + n) % n
		dI, dJ := h.Sites[i].Dim(), h.Sites[j].Dim()
		si, sj := complex64(0.5), complex64(0.5)
		if finite && i == 0 {
			si = 1
		}
		if finite && j == n-1 {
			sj = 1
		}
		var add *tensor.Dense
		if frobNorm(honsite[i]) > tol {
			add = kron2(scaled(honsite[i], si), identity(dJ))
		}
		if frobNorm(honsite[j]) > tol {
			right := kron2(identity(dI), scaled(honsite[j], sj))
			if add == nil {
				add = right
			} else {
				addScaled(add, right, 1)
			}
		}
		if add == nil {
			continue
		}
		if hbond[j] == nil {
			hbond[j] = add
		} else {
			addScaled(hbond[j], add, 1)
		}
	}

	if h.ExplicitPlusHC {
		for j, hb := range hbond {
			if hb == nil {
				continue
			}
			addScaled(hbond[j], hermitian4(hb), 1)
		}
	}
	m.HBond = hbond
	return hbond, nil
}

func accumulateOnsite(onsite []*tensor.Dense, i int, add *tensor.Dense) {
	if onsite[i] == nil {
		onsite[i] = add
		return
	}
	addScaled(onsite[i], add, 1)
}

// setBlock writes op into the (a, b) virtual block of w.
func setBlock(w *tensor.Dense, a, b int, op *tensor.Dense) {
	d := op.Shape()[0]
	for p := 0; p < d; p++ {
		for q := 0; q < d; q++ {
			w.SetAt([]int{a, b, p, q}, op.At(p, q))
		}
	}
}

func blockOf(w *tensor.Dense, a, b, d int) *tensor.Dense {
	op := tensor.Zeros(d, d)
	for p := 0; p < d; p++ {
		for q := 0; q < d; q++ {
			op.SetAt([]int{p, q}, w.At(a, b, p, q))
		}
	}
	return op
}

func zeroBlock(w *tensor.Dense, a, b, d int) {
	for p := 0; p < d; p++ {
		for q := 0; q < d; q++ {
			w.SetAt([]int{a, b, p, q}, 0)
		}
	}
}

func zeroRow(w *tensor.Dense, a int) {
	shape := w.Shape()
	for b := 0; b < shape[1]; b++ {
		zeroBlock(w, a, b, shape[2])
	}
}

func zeroCol(w *tensor.Dense, b int) {
	shape := w.Shape()
	for a := 0; a < shape[0]; a++ {
		zeroBlock(w, a, b, shape[2])
	}
}
