package model

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"testing"

	"github.com/fumin/tensor"

	"github.com/fumin/qlattice/lattice"
	"github.com/fumin/qlattice/site"
	"github.com/fumin/qlattice/terms"
)

func TestCalcHBondMPOAgree(t *testing.T) {
	t.Parallel()
	m := tfiChain(t, 4, 1, 0.5)
	hbond, err := m.CalcHBond(1e-12)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	h, err := m.CalcHMPO(1e-12)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	full, err := h.Full()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	dense := denseFromBonds(m.Lattice().MPSSites(), hbond)
	if err := checkEqual(full, dense, 1e-4); err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestCalcHMPOFromBond(t *testing.T) {
	t.Parallel()
	m := tfiChain(t, 4, 1, 0.5)
	hbond, err := m.CalcHBond(1e-12)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	dense := denseFromBonds(m.Lattice().MPSSites(), hbond)
	saved := make([]*tensor.Dense, len(hbond))
	for i, hb := range hbond {
		if hb != nil {
			saved[i] = resetCopy(tensor.Zeros(1), hb)
		}
	}

	h, err := m.CalcHMPOFromBond(1e-8)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	full, err := h.Full()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := checkEqual(full, dense, 1e-4); err != nil {
		t.Fatalf("%+v", err)
	}

	// The round trip through the MPO reproduces the bond tensors, since
	// the onsite parts are redistributed with the same end weights.
	back, err := m.CalcHBondFromMPO(1e-8)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for j := range saved {
		switch {
		case saved[j] == nil:
			if back[j] != nil && frobNorm(back[j]) > 1e-4 {
				t.Fatalf("bond %d", j)
			}
		default:
			if err := checkEqual(back[j], saved[j], 1e-4); err != nil {
				t.Fatalf("bond %d: %+v", j, err)
			}
		}
	}
}

func TestBondMPORoundTripInfinite(t *testing.T) {
	t.Parallel()
	lat, err := lattice.NewChain(2, []*site.Site{site.SpinHalf()}, lattice.NewChainOptions().BCMPS(lattice.Infinite))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	m := New(lat)
	if err := m.AddOnsite([]complex64{-0.5}, 0, "Sigmaz"); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.AddCoupling([]complex64{-1}, 0, "Sigmax", 0, "Sigmax", 1); err != nil {
		t.Fatalf("%+v", err)
	}
	hbond, err := m.CalcHBond(1e-12)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	saved := make([]*tensor.Dense, len(hbond))
	for i, hb := range hbond {
		saved[i] = resetCopy(tensor.Zeros(1), hb)
	}
	if _, err := m.CalcHMPOFromBond(1e-8); err != nil {
		t.Fatalf("%+v", err)
	}
	back, err := m.CalcHBondFromMPO(1e-8)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for j := range saved {
		if err := checkEqual(back[j], saved[j], 1e-4); err != nil {
			t.Fatalf("bond %d: %+v", j, err)
		}
	}
}

func TestCalcHBondLongRange(t *testing.T) {
	t.Parallel()
	lat, err := lattice.NewChain(4, []*site.Site{site.SpinHalf()})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	m := New(lat)
	if err := m.AddCoupling([]complex64{1}, 0, "Sigmax", 0, "Sigmax", 2); err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := m.CalcHBond(1e-12); err == nil {
		t.Fatalf("expect error for range 2 coupling")
	}
	h, err := m.CalcHMPO(1e-12)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if h.MaxRange != 2 {
		t.Fatalf("%d", h.MaxRange)
	}
	if _, err := m.CalcHBondFromMPO(1e-8); err == nil {
		t.Fatalf("expect residual error for range 2 coupling")
	}
}

func TestExplicitPlusHC(t *testing.T) {
	t.Parallel()
	const n = 3
	strength := []complex64{0.7 + 0.2i}
	newModel := func(options ...Options) *Model {
		lat, err := lattice.NewChain(n, []*site.Site{site.Fermion()})
		if err != nil {
			t.Fatalf("%+v", err)
		}
		m := New(lat, options...)
		if err := m.AddCoupling(strength, 0, "Cd", 0, "C", 1, NewCouplingOptions().PlusHC(true)); err != nil {
			t.Fatalf("%+v", err)
		}
		return m
	}

	ma := newModel()
	ha, err := ma.CalcHMPO(1e-12)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	fullA, err := ha.Full()
	if err != nil {
		t.Fatalf("%+v", err)
	}

	mb := newModel(NewOptions().ExplicitPlusHC(true))
	hb, err := mb.CalcHMPO(1e-12)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !hb.ExplicitPlusHC {
		t.Fatalf("flag not propagated")
	}
	fullB, err := hb.Full()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	addScaled(fullB, hermitianM(fullB), 1)
	if err := checkEqual(fullB, fullA, 1e-4); err != nil {
		t.Fatalf("%+v", err)
	}

	// CalcHBond adds the conjugate during compilation.
	bondsA, err := ma.CalcHBond(1e-12)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	bondsB, err := mb.CalcHBond(1e-12)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	denseA := denseFromBonds(ma.Lattice().MPSSites(), bondsA)
	denseB := denseFromBonds(mb.Lattice().MPSSites(), bondsB)
	if err := checkEqual(denseB, denseA, 1e-4); err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestJordanWignerString(t *testing.T) {
	t.Parallel()
	fs := site.Fermion()
	lat, err := lattice.NewChain(3, []*site.Site{fs})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	m := New(lat)
	if err := m.AddCoupling([]complex64{1}, 0, "Cd", 0, "C", 2); err != nil {
		t.Fatalf("%+v", err)
	}
	h, err := m.CalcHMPO(1e-12)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	full, err := h.Full()
	if err != nil {
		t.Fatalf("%+v", err)
	}

	cdJW, err := fs.Op("Cd JW")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	jw, err := fs.Op("JW")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	c, err := fs.Op("C")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := kronM(kronM(cdJW, jw), c)
	if err := checkEqual(full, want, 1e-4); err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestJordanWignerErrors(t *testing.T) {
	t.Parallel()
	lat, err := lattice.NewChain(4, []*site.Site{site.Fermion()})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	m := New(lat)
	if err := m.AddCoupling([]complex64{1}, 0, "Cd", 0, "N", 1); err == nil {
		t.Fatalf("expect error for a single fermionic operator")
	}
	ops := []MultiOp{{Op: "Cd", Dx: 0}, {Op: "C", Dx: 1}, {Op: "C", Dx: 2}}
	if err := m.AddMultiCoupling([]complex64{1}, ops); err == nil {
		t.Fatalf("expect error for an odd number of fermionic operators")
	}
	if err := m.AddCoupling([]complex64{1}, 0, "Cd", 0, "C", -1, NewCouplingOptions().OpString("N")); err == nil {
		t.Fatalf("expect error for swapping around a custom string")
	}
}

func TestAddLocalTerm(t *testing.T) {
	t.Parallel()
	const n = 3
	lat, err := lattice.NewChain(n, []*site.Site{site.Fermion()})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	ma := New(lat)
	// Out of order fermionic operators pick up a transposition sign.
	if err := ma.AddLocalTerm(0.5, []terms.OpAt{{Op: "C", I: 2}, {Op: "Cd", I: 0}}); err != nil {
		t.Fatalf("%+v", err)
	}
	// Operators on the same site are combined into one onsite term.
	if err := ma.AddLocalTerm(0.3, []terms.OpAt{{Op: "N", I: 1}, {Op: "N", I: 1}}); err != nil {
		t.Fatalf("%+v", err)
	}
	ha, err := ma.CalcHMPO(1e-12)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	fullA, err := ha.Full()
	if err != nil {
		t.Fatalf("%+v", err)
	}

	latB, err := lattice.NewChain(n, []*site.Site{site.Fermion()})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	mb := New(latB)
	// C_2 Cd_0 = -Cd_0 C_2.
	if err := mb.AddCoupling([]complex64{-0.5}, 0, "Cd", 0, "C", 2); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := mb.AddOnsiteTerm(0.3, 1, "N N"); err != nil {
		t.Fatalf("%+v", err)
	}
	hb, err := mb.CalcHMPO(1e-12)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	fullB, err := hb.Full()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := checkEqual(fullA, fullB, 1e-4); err != nil {
		t.Fatalf("%+v", err)
	}

	// An unpaired Jordan-Wigner operator cannot form a term.
	if err := ma.AddLocalTerm(1, []terms.OpAt{{Op: "C", I: 1}}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGroupSitesInvariance(t *testing.T) {
	t.Parallel()
	m := tfiChain(t, 4, 1, 0.5)
	hbond, err := m.CalcHBond(1e-12)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := m.CalcHMPO(1e-12); err != nil {
		t.Fatalf("%+v", err)
	}
	dense := denseFromBonds(m.Lattice().MPSSites(), hbond)

	if err := m.GroupSites(2, nil); err != nil {
		t.Fatalf("%+v", err)
	}
	if got := m.Lattice().NSites(); got != 2 {
		t.Fatalf("%d sites", got)
	}
	full, err := m.HMPO.Full()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := checkEqual(full, dense, 1e-4); err != nil {
		t.Fatalf("%+v", err)
	}
	grouped := denseFromBonds(m.Lattice().MPSSites(), m.HBond)
	if err := checkEqual(grouped, dense, 1e-4); err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestEnlargeUnitCell(t *testing.T) {
	t.Parallel()
	lat, err := lattice.NewChain(2, []*site.Site{site.SpinHalf()}, lattice.NewChainOptions().BCMPS(lattice.Infinite))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	m := New(lat)
	if err := m.AddCoupling([]complex64{-1, -2}, 0, "Sigmaz", 0, "Sigmaz", 1); err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := m.CalcHBond(1e-12); err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := m.CalcHMPO(1e-12); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.EnlargeUnitCell(3); err != nil {
		t.Fatalf("%+v", err)
	}
	if got := m.Lattice().NSites(); got != 6 {
		t.Fatalf("%d sites", got)
	}
	if got := len(m.HBond); got != 6 {
		t.Fatalf("%d bonds", got)
	}
	for j := 0; j < 2; j++ {
		if err := checkEqual(m.HBond[j+2], m.HBond[j], 0); err != nil {
			t.Fatalf("bond %d: %+v", j, err)
		}
	}
	if got := len(m.HMPO.Ws); got != 6 {
		t.Fatalf("%d W tensors", got)
	}
}

func TestZeroStrengthNoOp(t *testing.T) {
	t.Parallel()
	lat, err := lattice.NewChain(4, []*site.Site{site.SpinHalf()})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	m := New(lat)
	if err := m.AddOnsite([]complex64{0}, 0, "Sz"); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.AddCoupling([]complex64{0, 0, 0}, 0, "Sz", 0, "Sz", 1); err != nil {
		t.Fatalf("%+v", err)
	}
	ops := []MultiOp{{Op: "Sz", Dx: 0, U: 0}, {Op: "Sz", Dx: 1, U: 0}, {Op: "Sz", Dx: 2, U: 0}}
	if err := m.AddMultiCoupling([]complex64{0}, ops); err != nil {
		t.Fatalf("%+v", err)
	}
	if got := m.AllOnsiteTerms().All(); len(got) != 0 {
		t.Fatalf("%v", got)
	}
	if got := m.AllCouplingTerms().All(); len(got) != 0 {
		t.Fatalf("%v", got)
	}
}

func TestCouplingStrengthAddExtFlux(t *testing.T) {
	t.Parallel()
	lat, err := lattice.NewChain(3, []*site.Site{site.SpinHalf()}, lattice.NewChainOptions().BCMPS(lattice.Infinite))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	m := New(lat)
	str, err := m.CouplingStrengthAddExtFlux([]complex64{1}, 1, math.Pi/2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := []complex64{1, 1, -1i}
	for x, w := range want {
		if absC(str[x]-w) > 1e-6 {
			t.Fatalf("x %d: %v", x, str)
		}
	}
	str, err = m.CouplingStrengthAddExtFlux([]complex64{1}, -1, math.Pi/2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want = []complex64{1i, 1, 1}
	for x, w := range want {
		if absC(str[x]-w) > 1e-6 {
			t.Fatalf("x %d: %v", x, str)
		}
	}

	open, err := lattice.NewChain(3, []*site.Site{site.SpinHalf()})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := New(open).CouplingStrengthAddExtFlux([]complex64{1}, 1, math.Pi/2); err == nil {
		t.Fatalf("expect error on an open chain")
	}
	// A zero phase is a no-op on any boundary.
	str, err = New(open).CouplingStrengthAddExtFlux([]complex64{1}, 1, 0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for x := range str {
		if absC(str[x]-1) > 1e-6 {
			t.Fatalf("x %d: %v", x, str)
		}
	}
}

func tfiChain(t *testing.T, n int, j, g complex64) *Model {
	lat, err := lattice.NewChain(n, []*site.Site{site.SpinHalf()})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	m := New(lat)
	if err := m.AddOnsite([]complex64{-g}, 0, "Sigmaz"); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.AddCoupling([]complex64{-j}, 0, "Sigmax", 0, "Sigmax", 1); err != nil {
		t.Fatalf("%+v", err)
	}
	return m
}

// denseFromBonds embeds finite bond tensors into the full many body basis.
func denseFromBonds(sites []*site.Site, hbond []*tensor.Dense) *tensor.Dense {
	total := 1
	for _, s := range sites {
		total *= s.Dim()
	}
	h := tensor.Zeros(total, total)
	for j, hb := range hbond {
		if hb == nil {
			continue
		}
		i := j - 1
		dI, dJ := sites[i].Dim(), sites[j].Dim()
		pre, post := 1, 1
		for k := 0; k < i; k++ {
			pre *= sites[k].Dim()
		}
		for k := j + 1; k < len(sites); k++ {
			post *= sites[k].Dim()
		}
		mb := resetCopy(tensor.Zeros(1), hb).Reshape(dI*dJ, dI*dJ)
		addScaled(h, kronM(kronM(identity(pre), mb), identity(post)), 1)
	}
	return h
}

func hermitianM(m *tensor.Dense) *tensor.Dense {
	return resetCopy(tensor.Zeros(1), m.Conj().Transpose(1, 0))
}

func checkEqual(got, want *tensor.Dense, tol float64) error {
	gs, ws := got.Shape(), want.Shape()
	if len(gs) != len(ws) {
		return fmt.Errorf("shape %v %v", gs, ws)
	}
	for i, d := range gs {
		if d != ws[i] {
			return fmt.Errorf("shape %v %v", gs, ws)
		}
	}
	for ijk, w := range want.All() {
		if g := got.At(ijk...); absC(g-w) > tol {
			return fmt.Errorf("%v: got %v, want %v", ijk, g, w)
		}
	}
	return nil
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)
	os.Exit(m.Run())
}
