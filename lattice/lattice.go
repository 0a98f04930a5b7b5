// Package lattice defines chain geometries of repeated unit cells.
//
// A site of the chain is addressed either by the pair (x, u) of unit
// cell position and index within the cell, or by its flattened MPS
// index x*U+u where U is the unit cell size.
package lattice

import (
	"github.com/pkg/errors"

	"github.com/fumin/qlattice/site"
)

// Boundary conditions of the matrix product state indexing.
const (
	// Finite chains have L*U sites and open ends.
	Finite = "finite"
	// Infinite chains repeat their L*U site unit cell indefinitely.
	Infinite = "infinite"
)

// Lattice is a one dimensional chain of unit cells.
type Lattice struct {
	l        int
	unitCell []*site.Site
	bcMPS    string
	periodic bool
}

// ChainOptions are optional arguments of NewChain.
type ChainOptions struct {
	bcMPS    string
	periodic bool
}

// NewChainOptions returns the default options, a finite chain with open couplings.
func NewChainOptions() ChainOptions {
	return ChainOptions{bcMPS: Finite, periodic: false}
}

// BCMPS sets the matrix product state boundary conditions, Finite or Infinite.
func (o ChainOptions) BCMPS(bc string) ChainOptions {
	o.bcMPS = bc
	return o
}

// Periodic makes couplings wrap around the chain.
// Infinite chains are always periodic.
func (o ChainOptions) Periodic(p bool) ChainOptions {
	o.periodic = p
	return o
}

// NewChain returns a chain of l unit cells.
func NewChain(l int, unitCell []*site.Site, options ...ChainOptions) (*Lattice, error) {
	opt := NewChainOptions()
	if len(options) == 1 {
		opt = options[0]
	}
	if l < 1 {
		return nil, errors.Errorf("l %d", l)
	}
	if len(unitCell) == 0 {
		return nil, errors.Errorf("empty unit cell")
	}
	switch opt.bcMPS {
	case Finite, Infinite:
	default:
		return nil, errors.Errorf("unknown boundary conditions %q", opt.bcMPS)
	}
	lat := &Lattice{l: l, unitCell: unitCell, bcMPS: opt.bcMPS, periodic: opt.periodic}
	if lat.bcMPS == Infinite {
		lat.periodic = true
	}
	return lat, nil
}

// Trivial returns a chain whose unit cell is the given sites themselves, one cell per site.
// It describes the geometry of a chain after grouping sites.
func Trivial(sites []*site.Site, bcMPS string) *Lattice {
	return &Lattice{l: 1, unitCell: sites, bcMPS: bcMPS, periodic: true}
}

// L is the number of unit cells along the chain.
func (lat *Lattice) L() int {
	return lat.l
}

// UnitCell returns the sites of one unit cell.
func (lat *Lattice) UnitCell() []*site.Site {
	return lat.unitCell
}

// NSites is the total number of sites, L()*len(UnitCell()).
func (lat *Lattice) NSites() int {
	return lat.l * len(lat.unitCell)
}

// BCMPS returns the matrix product state boundary conditions.
func (lat *Lattice) BCMPS() string {
	return lat.bcMPS
}

// Periodic reports whether couplings wrap around the chain.
func (lat *Lattice) Periodic() bool {
	return lat.periodic
}

// MPSSites lists the sites in MPS order.
func (lat *Lattice) MPSSites() []*site.Site {
	sites := make([]*site.Site, 0, lat.NSites())
	for x := 0; x < lat.l; x++ {
		sites = append(sites, lat.unitCell...)
	}
	return sites
}

// SiteAt returns the site at MPS index i.
// For infinite chains i may lie outside [0, NSites()).
func (lat *Lattice) SiteAt(i int) *site.Site {
	n := lat.NSites()
	i = ((i % n) + n) % n
	return lat.unitCell[i%len(lat.unitCell)]
}

// MPSIndex flattens the lattice position (x, u) to an MPS index.
func (lat *Lattice) MPSIndex(x, u int) int {
	return x*len(lat.unitCell) + u
}

// Pair is the placement of a two site coupling.
type Pair struct {
	// I, J are the MPS indices of the two operators.
	I, J int
	// Ring indexes the coupling strength array.
	Ring int
}

// CouplingShape is the length of the strength array of a coupling with offset dx.
func (lat *Lattice) CouplingShape(dx int) int {
	if lat.periodic {
		return lat.l
	}
	if dx < 0 {
		dx = -dx
	}
	return max(lat.l-dx, 0)
}

// PossibleCouplings enumerates the placements of a coupling between
// cell indices u1 and u2 at cell offset dx.
// The returned shape is the length of the per placement strength array,
// and Pair.Ring indexes into it.
func (lat *Lattice) PossibleCouplings(u1, u2, dx int) ([]Pair, int, error) {
	u := len(lat.unitCell)
	if u1 < 0 || u1 >= u || u2 < 0 || u2 >= u {
		return nil, 0, errors.Errorf("unit cell indices %d %d, cell size %d", u1, u2, u)
	}
	shape := lat.CouplingShape(dx)
	pairs := make([]Pair, 0, shape)
	n := lat.NSites()
	for x0 := 0; x0 < lat.l; x0++ {
		x1 := x0 + dx
		switch {
		case !lat.periodic:
			if x1 < 0 || x1 >= lat.l {
				continue
			}
			pairs = append(pairs, Pair{I: lat.MPSIndex(x0, u1), J: lat.MPSIndex(x1, u2), Ring: min(x0, x1)})
		case lat.bcMPS == Finite:
			x1 = ((x1 % lat.l) + lat.l) % lat.l
			pairs = append(pairs, Pair{I: lat.MPSIndex(x0, u1), J: lat.MPSIndex(x1, u2), Ring: x0})
		default:
			// Infinite chains keep indices unwrapped and shift the
			// whole coupling by unit cells so that its smallest index
			// lands in [0, NSites()).
			i, j := lat.MPSIndex(x0, u1), lat.MPSIndex(x1, u2)
			shift := shiftIntoCell(min(i, j), n)
			pairs = append(pairs, Pair{I: i + shift, J: j + shift, Ring: x0})
		}
	}
	return pairs, shape, nil
}

// Placement is the placement of a multi site coupling.
type Placement struct {
	// Is are the MPS indices of the operators, in the caller's operator order.
	Is []int
	// Ring indexes the coupling strength array.
	Ring int
}

// PossibleMultiCouplings enumerates the placements of a coupling of
// operators at cell offsets dxs and cell indices us.
func (lat *Lattice) PossibleMultiCouplings(dxs, us []int) ([]Placement, int, error) {
	if len(dxs) != len(us) || len(dxs) == 0 {
		return nil, 0, errors.Errorf("%d offsets, %d cell indices", len(dxs), len(us))
	}
	u := len(lat.unitCell)
	for _, ui := range us {
		if ui < 0 || ui >= u {
			return nil, 0, errors.Errorf("unit cell index %d, cell size %d", ui, u)
		}
	}
	minDx, maxDx := dxs[0], dxs[0]
	for _, dx := range dxs[1:] {
		minDx, maxDx = min(minDx, dx), max(maxDx, dx)
	}

	lo, hi := 0, lat.l
	if !lat.periodic {
		lo = max(0, -minDx)
		hi = min(lat.l, lat.l-maxDx)
	}
	shape := max(hi-lo, 0)
	placements := make([]Placement, 0, shape)
	n := lat.NSites()
	for x0 := lo; x0 < hi; x0++ {
		is := make([]int, len(dxs))
		lowest := 0
		for m, dx := range dxs {
			x := x0 + dx
			if lat.periodic && lat.bcMPS == Finite {
				x = ((x % lat.l) + lat.l) % lat.l
			}
			is[m] = lat.MPSIndex(x, us[m])
			if m == 0 || is[m] < lowest {
				lowest = is[m]
			}
		}
		if lat.bcMPS == Infinite {
			shift := shiftIntoCell(lowest, n)
			for m := range is {
				is[m] += shift
			}
		}
		placements = append(placements, Placement{Is: is, Ring: x0 - lo})
	}
	return placements, shape, nil
}

// EnlargeUnitCell repeats the unit cell of an infinite chain factor times.
func (lat *Lattice) EnlargeUnitCell(factor int) error {
	if factor < 1 {
		return errors.Errorf("factor %d", factor)
	}
	if lat.bcMPS != Infinite {
		return errors.Errorf("cannot enlarge the unit cell of a %s chain", lat.bcMPS)
	}
	lat.l *= factor
	return nil
}

// shiftIntoCell returns the multiple of n that shifts m into [0, n).
func shiftIntoCell(m, n int) int {
	switch {
	case m < 0:
		return ((-m + n - 1) / n) * n
	default:
		return -(m / n) * n
	}
}
