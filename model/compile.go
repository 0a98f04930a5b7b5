package model

import (
	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/fumin/qlattice/lattice"
	"github.com/fumin/qlattice/mpo"
	"github.com/fumin/qlattice/terms"
)

// CalcHBond compiles the accumulated terms into nearest neighbor bond
// tensors and stores them in HBond, where HBond[i] acts on the site
// pair (i-1, i) with axes (p_{i-1}, p_i, p*_{i-1}, p*_i).
// Terms of range larger than one are rejected.
// Strengths of magnitude at most tol are dropped first.
func (m *Model) CalcHBond(tol float64) ([]*tensor.Dense, error) {
	sites := m.lat.MPSSites()
	finite := m.lat.BCMPS() == lattice.Finite

	ct := m.AllCouplingTerms()
	ct.RemoveZeros(tol)
	hbond, err := terms.ToNNBonds(ct, sites)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	ot := m.AllOnsiteTerms()
	ot.RemoveZeros(tol)
	if err := ot.AddToBonds(hbond, sites, finite); err != nil {
		return nil, errors.Wrap(err, "")
	}

	if m.explicitPlusHC {
		for i, hb := range hbond {
			if hb == nil {
				continue
			}
			addScaled(hbond[i], hermitian4(hb), 1)
		}
	}
	m.HBond = hbond
	return hbond, nil
}

// CalcHMPO compiles the accumulated terms into a matrix product
// operator and stores it in HMPO.
// Strengths of magnitude at most tol are dropped first.
func (m *Model) CalcHMPO(tol float64) (*mpo.MPO, error) {
	sites := m.lat.MPSSites()

	g, err := mpo.NewGraph(sites, m.lat.BCMPS())
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	ot := m.AllOnsiteTerms()
	ot.RemoveZeros(tol)
	for _, t := range ot.All() {
		if err := g.AddTerm(t); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	ct := m.AllCouplingTerms()
	ct.RemoveZeros(tol)
	for _, t := range ct.All() {
		if err := g.AddTerm(t); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}

	h, err := g.Build()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	h.MaxRange = ct.MaxRange()
	h.ExplicitPlusHC = m.explicitPlusHC
	m.HMPO = h
	return h, nil
}
