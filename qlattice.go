// Package qlattice provides predefined one dimensional lattice models.
// Each constructor reads its parameters from a params.Params, builds
// the couplings, and compiles the Hamiltonian into both the bond and
// the matrix product operator representations.
package qlattice

import (
	"github.com/pkg/errors"

	"github.com/fumin/qlattice/lattice"
	"github.com/fumin/qlattice/model"
	"github.com/fumin/qlattice/params"
	"github.com/fumin/qlattice/site"
)

const tol = 1e-12

// TFIChain is the transverse field Ising chain
//
//	H = -J \sum_i sigmaz_i sigmaz_{i+1} - h \sum_i sigmax_i
//
// with parameters L, J, h and bc.
func TFIChain(p *params.Params) (*model.Model, error) {
	l, bc, err := chainGeometry(p)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	j, err := p.GetComplex("J", 1)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	h, err := p.GetComplex("h", 1)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	lat, err := lattice.NewChain(l, []*site.Site{site.SpinHalf()}, lattice.NewChainOptions().BCMPS(bc))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	m := model.New(lat)
	if err := m.AddCoupling([]complex64{-complex64(j)}, 0, "Sigmaz", 0, "Sigmaz", 1); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := m.AddOnsite([]complex64{-complex64(h)}, 0, "Sigmax"); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := compile(m); err != nil {
		return nil, errors.Wrap(err, "")
	}
	p.WarnUnused()
	return m, nil
}

// SpinChain is the anisotropic Heisenberg chain
//
//	H = \sum_i Jx Sx_i Sx_{i+1} + Jy Sy_i Sy_{i+1} + Jz Sz_i Sz_{i+1}
//	    - hx \sum_i Sx_i - hz \sum_i Sz_i
//
// with parameters L, twoS, Jx, Jy, Jz, hx, hz and bc.
// The XY part is expressed through ladder operators so that only Sz
// conserving operators enter the coupling list when Jx equals Jy.
func SpinChain(p *params.Params) (*model.Model, error) {
	l, bc, err := chainGeometry(p)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	twoS, err := p.GetInt("twoS", 1)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	var jx, jy, jz, hx, hz complex128
	for _, kv := range []struct {
		key string
		dst *complex128
		dfl complex128
	}{
		{"Jx", &jx, 1}, {"Jy", &jy, 1}, {"Jz", &jz, 1},
		{"hx", &hx, 0}, {"hz", &hz, 0},
	} {
		if *kv.dst, err = p.GetComplex(kv.key, kv.dfl); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}

	lat, err := lattice.NewChain(l, []*site.Site{site.Spin(twoS)}, lattice.NewChainOptions().BCMPS(bc))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	m := model.New(lat)
	// Jx SxSx + Jy SySy = (Jx+Jy)/4 (SpSm + h.c.) + (Jx-Jy)/4 (SpSp + h.c.).
	if err := m.AddCoupling([]complex64{complex64((jx + jy) / 4)}, 0, "Sp", 0, "Sm", 1, model.NewCouplingOptions().PlusHC(true)); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := m.AddCoupling([]complex64{complex64((jx - jy) / 4)}, 0, "Sp", 0, "Sp", 1, model.NewCouplingOptions().PlusHC(true)); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := m.AddCoupling([]complex64{complex64(jz)}, 0, "Sz", 0, "Sz", 1); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := m.AddOnsite([]complex64{-complex64(hx)}, 0, "Sx"); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := m.AddOnsite([]complex64{-complex64(hz)}, 0, "Sz"); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := compile(m); err != nil {
		return nil, errors.Wrap(err, "")
	}
	p.WarnUnused()
	return m, nil
}

// FermionChain is the spinless fermion chain
//
//	H = -J \sum_i (Cd_i C_{i+1} + h.c.) + V \sum_i N_i N_{i+1} - mu \sum_i N_i
//
// with parameters L, J, V, mu and bc.
func FermionChain(p *params.Params) (*model.Model, error) {
	l, bc, err := chainGeometry(p)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	var j, v, mu complex128
	for _, kv := range []struct {
		key string
		dst *complex128
		dfl complex128
	}{
		{"J", &j, 1}, {"V", &v, 0}, {"mu", &mu, 0},
	} {
		if *kv.dst, err = p.GetComplex(kv.key, kv.dfl); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}

	lat, err := lattice.NewChain(l, []*site.Site{site.Fermion()}, lattice.NewChainOptions().BCMPS(bc))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	m := model.New(lat)
	if err := m.AddCoupling([]complex64{-complex64(j)}, 0, "Cd", 0, "C", 1, model.NewCouplingOptions().PlusHC(true)); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := m.AddCoupling([]complex64{complex64(v)}, 0, "N", 0, "N", 1); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := m.AddOnsite([]complex64{-complex64(mu)}, 0, "N"); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := compile(m); err != nil {
		return nil, errors.Wrap(err, "")
	}
	p.WarnUnused()
	return m, nil
}

func chainGeometry(p *params.Params) (int, string, error) {
	l, err := p.GetInt("L", 2)
	if err != nil {
		return 0, "", errors.Wrap(err, "")
	}
	bc, err := p.GetString("bc", lattice.Finite)
	if err != nil {
		return 0, "", errors.Wrap(err, "")
	}
	return l, bc, nil
}

func compile(m *model.Model) error {
	if _, err := m.CalcHMPO(tol); err != nil {
		return errors.Wrap(err, "")
	}
	if _, err := m.CalcHBond(tol); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
