package terms

import (
	"testing"

	"github.com/fumin/tensor"

	"github.com/fumin/qlattice/site"
)

func TestOnsiteTermsMerge(t *testing.T) {
	t.Parallel()
	ot := NewOnsiteTerms(3)
	if err := ot.AddOnsiteTerm(1, 1, "Sz"); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := ot.AddOnsiteTerm(0.5, 1, "Sz"); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := ot.AddOnsiteTerm(2, 0, "Sx"); err != nil {
		t.Fatalf("%+v", err)
	}
	all := ot.All()
	if len(all) != 2 {
		t.Fatalf("%#v", all)
	}
	if all[0].Ops[0] != "Sx" || all[0].Strength != 2 {
		t.Fatalf("%#v", all[0])
	}
	if all[1].Ops[0] != "Sz" || all[1].Strength != 1.5 {
		t.Fatalf("%#v", all[1])
	}

	// Cancelling strengths vanish after RemoveZeros.
	if err := ot.AddOnsiteTerm(-1.5, 1, "Sz"); err != nil {
		t.Fatalf("%+v", err)
	}
	ot.RemoveZeros(1e-12)
	if all := ot.All(); len(all) != 1 {
		t.Fatalf("%#v", all)
	}
}

func TestOnsiteTermsInvalid(t *testing.T) {
	t.Parallel()
	ot := NewOnsiteTerms(2)
	if err := ot.AddOnsiteTerm(1, 2, "Sz"); err == nil {
		t.Fatalf("expected out of range error")
	}
	if err := ot.AddOnsiteTerm(1, 0, ""); err == nil {
		t.Fatalf("expected empty operator error")
	}
	if err := ot.AddOnsiteTerm(1, 0, "Sz Sz"); err == nil {
		t.Fatalf("expected composite operator error")
	}
}

func TestAddToBonds(t *testing.T) {
	t.Parallel()
	s := site.SpinHalf()
	sites := []*site.Site{s, s, s}
	ot := NewOnsiteTerms(3)
	for i := 0; i < 3; i++ {
		if err := ot.AddOnsiteTerm(1, i, "Sigmaz"); err != nil {
			t.Fatalf("%+v", err)
		}
	}

	hbond := make([]*tensor.Dense, 3)
	if err := ot.AddToBonds(hbond, sites, true); err != nil {
		t.Fatalf("%+v", err)
	}
	if hbond[0] != nil {
		t.Fatalf("finite chains have no bond to the left of site 0")
	}
	// Bond 1 carries all of site 0 and half of site 1.
	sz, err := s.Op("Sigmaz")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := kron2(sz, s.Id())
	addScaled(want, kron2(s.Id(), sz), 0.5)
	checkEqual(t, hbond[1], want)
	// Bond 2 carries half of site 1 and all of site 2.
	want = kron2(scaled(sz, 0.5), s.Id())
	addScaled(want, kron2(s.Id(), sz), 1)
	checkEqual(t, hbond[2], want)

	// On infinite chains every site splits evenly, including across the boundary.
	hbond = make([]*tensor.Dense, 3)
	if err := ot.AddToBonds(hbond, sites, false); err != nil {
		t.Fatalf("%+v", err)
	}
	want = kron2(scaled(sz, 0.5), s.Id())
	addScaled(want, kron2(s.Id(), sz), 0.5)
	for j := 0; j < 3; j++ {
		checkEqual(t, hbond[j], want)
	}
}

func TestCouplingTermsMerge(t *testing.T) {
	t.Parallel()
	ct := NewCouplingTerms(4)
	if err := ct.AddCouplingTerm(1, 0, 1, "Sz", "Sz", "Id"); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := ct.AddCouplingTerm(0.25, 0, 1, "Sz", "Sz", "Id"); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := ct.AddCouplingTerm(1, 1, 3, "Sp", "Sm", "Id"); err != nil {
		t.Fatalf("%+v", err)
	}
	all := ct.All()
	if len(all) != 2 {
		t.Fatalf("%#v", all)
	}
	if all[0].Strength != 1.25 {
		t.Fatalf("%#v", all[0])
	}
	if ct.MaxRange() != 2 {
		t.Fatalf("%d", ct.MaxRange())
	}

	if err := ct.AddCouplingTerm(1, 1, 1, "Sz", "Sz", "Id"); err == nil {
		t.Fatalf("expected ascending order error")
	}
	if err := ct.AddCouplingTerm(1, -1, 0, "Sz", "Sz", "Id"); err == nil {
		t.Fatalf("expected range error")
	}
}

func TestUpgradeFrom(t *testing.T) {
	t.Parallel()
	ct := NewCouplingTerms(5)
	if err := ct.AddCouplingTerm(2, 0, 1, "Sz", "Sz", "Id"); err != nil {
		t.Fatalf("%+v", err)
	}
	mt := UpgradeFrom(ct)
	if err := mt.AddMultiCouplingTerm(1, []int{0, 2, 4}, []string{"Sz", "Sz", "Sz"}, []string{"Id", "Id"}); err != nil {
		t.Fatalf("%+v", err)
	}
	all := mt.All()
	if len(all) != 2 {
		t.Fatalf("%#v", all)
	}
	if mt.MaxRange() != 4 {
		t.Fatalf("%d", mt.MaxRange())
	}

	// The widened accumulator is a copy.
	if err := mt.AddCouplingTerm(1, 0, 1, "Sz", "Sz", "Id"); err != nil {
		t.Fatalf("%+v", err)
	}
	if got := ct.All()[0].Strength; got != 2 {
		t.Fatalf("%v", got)
	}
}

func TestToNNBonds(t *testing.T) {
	t.Parallel()
	s := site.SpinHalf()
	sites := []*site.Site{s, s, s}
	ct := NewCouplingTerms(3)
	if err := ct.AddCouplingTerm(-1, 0, 1, "Sigmaz", "Sigmaz", "Id"); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := ct.AddCouplingTerm(0.5, 1, 2, "Sp", "Sm", "Id"); err != nil {
		t.Fatalf("%+v", err)
	}
	hbond, err := ToNNBonds(ct, sites)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if hbond[0] != nil {
		t.Fatalf("no coupling ends at site 0")
	}
	sz, _ := s.Op("Sigmaz")
	checkEqual(t, hbond[1], kron2(scaled(sz, -1), sz))
	sp, _ := s.Op("Sp")
	sm, _ := s.Op("Sm")
	checkEqual(t, hbond[2], kron2(scaled(sp, 0.5), sm))

	// Couplings of range two are not bond representable.
	if err := ct.AddCouplingTerm(1, 0, 2, "Sz", "Sz", "Id"); err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := ToNNBonds(ct, sites); err == nil {
		t.Fatalf("expected range error")
	}
}

func TestOrderCombineTerm(t *testing.T) {
	t.Parallel()
	f := site.Fermion()
	sites := []*site.Site{f, f, f, f}

	// Swapping two fermionic operators flips the sign.
	term := []OpAt{{Op: "C", I: 2}, {Op: "Cd", I: 0}}
	ordered, sign, err := OrderCombineTerm(term, sites)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if sign != -1 {
		t.Fatalf("%v", sign)
	}
	if ordered[0].I != 0 || ordered[0].Op != "Cd" || ordered[1].I != 2 || ordered[1].Op != "C" {
		t.Fatalf("%#v", ordered)
	}

	// Operators on the same site multiply, keeping their original order.
	term = []OpAt{{Op: "Cd", I: 1}, {Op: "C", I: 1}}
	ordered, sign, err = OrderCombineTerm(term, sites)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if sign != 1 || len(ordered) != 1 || ordered[0].Op != "Cd C" {
		t.Fatalf("%v %#v", sign, ordered)
	}

	// Non fermionic operators reorder freely.
	term = []OpAt{{Op: "N", I: 3}, {Op: "N", I: 0}}
	_, sign, err = OrderCombineTerm(term, sites)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if sign != 1 {
		t.Fatalf("%v", sign)
	}
}

func TestMultiCouplingHandleJW(t *testing.T) {
	t.Parallel()
	f := site.Fermion()
	sites := []*site.Site{f, f, f, f}

	// Cd_0 C_2 picks up a Jordan-Wigner string over site 1,
	// absorbed into the left operator.
	term := []OpAt{{Op: "Cd", I: 0}, {Op: "C", I: 2}}
	got, err := MultiCouplingHandleJW(1, term, sites, "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got.Ops[0] != "Cd JW" || got.Ops[1] != "C" || got.Strings[0] != "JW" {
		t.Fatalf("%#v", got)
	}

	// Four fermionic operators alternate the string parity.
	term = []OpAt{{Op: "Cd", I: 0}, {Op: "C", I: 1}, {Op: "Cd", I: 2}, {Op: "C", I: 3}}
	got, err = MultiCouplingHandleJW(1, term, sites, "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	wantOps := []string{"Cd JW", "C", "Cd JW", "C"}
	wantStrings := []string{"JW", "Id", "JW"}
	for m, op := range wantOps {
		if got.Ops[m] != op {
			t.Fatalf("%d %#v", m, got)
		}
	}
	for m, op := range wantStrings {
		if got.Strings[m] != op {
			t.Fatalf("%d %#v", m, got)
		}
	}

	// Density operators need no strings.
	term = []OpAt{{Op: "N", I: 0}, {Op: "N", I: 2}}
	got, err = MultiCouplingHandleJW(1, term, sites, "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got.Ops[0] != "N" || got.Strings[0] != "Id" {
		t.Fatalf("%#v", got)
	}

	// An unpaired fermionic operator is rejected.
	term = []OpAt{{Op: "Cd", I: 0}, {Op: "N", I: 2}}
	if _, err := MultiCouplingHandleJW(1, term, sites, ""); err == nil {
		t.Fatalf("expected parity error")
	}

	// An explicit string is used verbatim on every segment.
	term = []OpAt{{Op: "N", I: 0}, {Op: "N", I: 3}}
	got, err = MultiCouplingHandleJW(1, term, sites, "JW")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got.Ops[0] != "N" || got.Strings[0] != "JW" {
		t.Fatalf("%#v", got)
	}
}

func checkEqual(t *testing.T, got, want *tensor.Dense) {
	t.Helper()
	if got == nil {
		t.Fatalf("nil tensor")
	}
	gs, ws := got.Shape(), want.Shape()
	if len(gs) != len(ws) {
		t.Fatalf("%v %v", gs, ws)
	}
	for i, d := range gs {
		if ws[i] != d {
			t.Fatalf("%v %v", gs, ws)
		}
	}
	for ijk, v := range want.All() {
		if diff := absC(got.At(ijk...) - v); diff > 1e-6 {
			t.Fatalf("%v got %v want %v", ijk, got.At(ijk...), v)
		}
	}
}
