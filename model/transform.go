package model

import (
	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/fumin/qlattice/lattice"
	"github.com/fumin/qlattice/site"
)

// EnlargeUnitCell repeats the unit cell of an infinite model factor
// times, including the compiled HBond and HMPO.
// Terms accumulated but not yet compiled still refer to the old unit
// cell and should be added again after enlarging.
func (m *Model) EnlargeUnitCell(factor int) error {
	if factor < 1 {
		return errors.Errorf("factor %d", factor)
	}
	n := m.lat.NSites()
	if err := m.lat.EnlargeUnitCell(factor); err != nil {
		return errors.Wrap(err, "")
	}
	if m.HBond != nil {
		hbond := make([]*tensor.Dense, 0, factor*n)
		for k := 0; k < factor; k++ {
			hbond = append(hbond, m.HBond...)
		}
		m.HBond = hbond
	}
	if m.HMPO != nil {
		if err := m.HMPO.EnlargeUnitCell(factor); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// GroupSites groups n consecutive sites at a time into single sites of
// larger dimension, regrouping the compiled HBond and HMPO.
// Bonds internal to a group become onsite terms of the grouped site and
// are redistributed onto the grouped bonds.
// If grouped is nil, the grouped sites are built with site.GroupSites.
func (m *Model) GroupSites(n int, grouped []*site.Site) error {
	if n < 1 {
		return errors.Errorf("n %d", n)
	}
	sites := m.lat.MPSSites()
	L := len(sites)
	finite := m.lat.BCMPS() == lattice.Finite
	if !finite && L%n != 0 {
		return errors.Errorf("unit cell of %d sites is not divisible by %d", L, n)
	}
	if grouped == nil {
		grouped = site.GroupSites(sites, n)
	}
	newL := (L + n - 1) / n
	if len(grouped) != newL {
		return errors.Errorf("%d grouped sites, %d groups", len(grouped), newL)
	}

	if m.HBond != nil {
		hbond, err := groupBonds(m.HBond, sites, grouped, n, finite)
		if err != nil {
			return errors.Wrap(err, "")
		}
		m.HBond = hbond
	}
	if m.HMPO != nil {
		if err := m.HMPO.GroupSites(n, grouped); err != nil {
			return errors.Wrap(err, "")
		}
	}
	m.lat = lattice.Trivial(grouped, m.lat.BCMPS())
	return nil
}

// groupBonds rewrites bond tensors over sites as bond tensors over the
// grouped sites.
func groupBonds(old []*tensor.Dense, sites, grouped []*site.Site, n int, finite bool) ([]*tensor.Dense, error) {
	L, newL := len(sites), len(grouped)
	// onsite[g] accumulates the bonds internal to group g as a matrix
	// over the grouped dimension.
	onsite := make([]*tensor.Dense, newL)
	hbond := make([]*tensor.Dense, newL)
	for j, hb := range old {
		if hb == nil {
			continue
		}
		if finite && j == 0 {
			return nil, errors.Errorf("bond 0 wraps around the finite chain")
		}
		i := (j - 1 + L) % L
		g, gj := i/n, j/n
		dI, dJ := sites[i].Dim(), sites[j].Dim()
		mb := resetCopy(tensor.Zeros(1), hb).Reshape(dI*dJ, dI*dJ)

		if g == gj && i < j {
			// Internal bond, pad with identities on the rest of the group.
			pre, post := 1, 1
			for k := g * n; k < i; k++ {
				pre *= sites[k].Dim()
			}
			for k := j + 1; k < min((g+1)*n, L); k++ {
				post *= sites[k].Dim()
			}
			mg := kronM(kronM(identity(pre), mb), identity(post))
			if onsite[g] == nil {
				onsite[g] = mg
			} else {
				addScaled(onsite[g], mg, 1)
			}
			continue
		}

		// Boundary bond between groups gj-1 and gj.
		gi := (gj - 1 + newL) % newL
		if g != gi {
			return nil, errors.Errorf("bond %d spans non adjacent groups %d and %d", j, g, gj)
		}
		dGI, dGJ := grouped[gi].Dim(), grouped[gj].Dim()
		mbig := kronM(kronM(identity(dGI/dI), mb), identity(dGJ/dJ))
		add := mbig.Reshape(dGI, dGJ, dGI, dGJ)
		if hbond[gj] == nil {
			hbond[gj] = add
		} else {
			addScaled(hbond[gj], add, 1)
		}
	}

	// Redistribute the internal onsite parts onto the grouped bonds,
	// each group onto its right bond, the last finite group onto its left.
	for g := 0; g < newL; g++ {
		if onsite[g] == nil {
			continue
		}
		var j int
		var add *tensor.Dense
		if finite && g == newL-1 {
			if newL == 1 {
				return nil, errors.Errorf("grouping to a single finite site leaves no bonds")
			}
			j = newL - 1
			add = kron2(identity(grouped[g-1].Dim()), onsite[g])
		} else {
			j = (g + 1) % newL
			add = kron2(onsite[g], identity(grouped[j].Dim()))
		}
		if hbond[j] == nil {
			hbond[j] = add
		} else {
			addScaled(hbond[j], add, 1)
		}
	}
	return hbond, nil
}
