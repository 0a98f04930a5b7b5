package mps

import (
	"flag"
	"log"
	"math"
	"math/cmplx"
	"os"
	"testing"

	"github.com/fumin/tensor"

	"github.com/fumin/qlattice/lattice"
	"github.com/fumin/qlattice/mpo"
	"github.com/fumin/qlattice/site"
	"github.com/fumin/qlattice/terms"
)

func TestProductState(t *testing.T) {
	t.Parallel()
	s := site.SpinHalf()
	sites := []*site.Site{s, s, s}
	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}

	up, err := ProductState(sites, []int{0, 0, 0})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	down, err := ProductState(sites, []int{1, 1, 1})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got := InnerProduct(up, up, bufs); absDiff(got, 1) > 1e-6 {
		t.Fatalf("%v", got)
	}
	if got := InnerProduct(up, down, bufs); absDiff(got, 0) > 1e-6 {
		t.Fatalf("%v", got)
	}

	if _, err := ProductState(sites, []int{0, 2, 0}); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestFromDense(t *testing.T) {
	t.Parallel()
	s := site.SpinHalf()
	sites := []*site.Site{s, s}
	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}

	// The singlet (|01> - |10>) / sqrt(2).
	state := tensor.Zeros(2, 2)
	state.SetAt([]int{0, 1}, complex(float32(1/math.Sqrt2), 0))
	state.SetAt([]int{1, 0}, complex(float32(-1/math.Sqrt2), 0))
	ms := FromDense(state, bufs)
	if len(ms) != 2 {
		t.Fatalf("%d", len(ms))
	}
	if got := InnerProduct(ms, ms, bufs); absDiff(got, 1) > 1e-6 {
		t.Fatalf("%v", got)
	}

	b01, err := ProductState(sites, []int{0, 1})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	got := InnerProduct(b01, ms, bufs)
	if diff := absDiff(got*got, 0.5); diff > 1e-5 {
		t.Fatalf("%v", got)
	}
}

func TestExpectationMPO(t *testing.T) {
	t.Parallel()
	s := site.SpinHalf()
	sites := []*site.Site{s, s, s}
	j, h := complex64(1.1), complex64(0.3)
	hmpo := buildTFI(t, sites, j, h)
	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}

	// Diagonal matrix elements of basis states.
	tests := []struct {
		states []int
		want   complex64
	}{
		// All up: both bonds aligned.
		{states: []int{0, 0, 0}, want: -2 * j},
		// One flip: both bonds broken.
		{states: []int{0, 1, 0}, want: 2 * j},
		// Domain wall: one bond broken.
		{states: []int{0, 0, 1}, want: 0},
	}
	for _, test := range tests {
		ms, err := ProductState(sites, test.states)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		got, err := ExpectationMPO(hmpo, ms, bufs)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if diff := absDiff(got, test.want); diff > 1e-5 {
			t.Fatalf("%v got %v want %v", test.states, got, test.want)
		}
	}

	// A random state agrees with the dense matrix element.
	ms := RandMPS(sites, 4)
	got, err := ExpectationMPO(hmpo, ms, bufs)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := denseExpectation(t, hmpo, ms, bufs)
	if diff := absDiff(got, want); diff > 1e-4 {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestBondEnergies(t *testing.T) {
	t.Parallel()
	s := site.SpinHalf()
	sites := []*site.Site{s, s, s}
	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}

	ct := terms.NewCouplingTerms(3)
	if err := ct.AddCouplingTerm(1, 0, 1, "Sigmaz", "Sigmaz", "Id"); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := ct.AddCouplingTerm(1, 1, 2, "Sigmaz", "Sigmaz", "Id"); err != nil {
		t.Fatalf("%+v", err)
	}
	hbond, err := terms.ToNNBonds(ct, sites)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	ms, err := ProductState(sites, []int{0, 0, 1})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	es, err := BondEnergies(hbond, ms, bufs)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := []complex64{0, 1, -1}
	for j, e := range es {
		if diff := absDiff(e, want[j]); diff > 1e-6 {
			t.Fatalf("bond %d got %v want %v", j, e, want[j])
		}
	}
}

func buildTFI(t *testing.T, sites []*site.Site, j, h complex64) *mpo.MPO {
	t.Helper()
	g, err := mpo.NewGraph(sites, lattice.Finite)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for i := range sites {
		if err := g.AddTerm(terms.Term{Strength: -h, Sites: []int{i}, Ops: []string{"Sigmax"}}); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	for i := 0; i < len(sites)-1; i++ {
		term := terms.Term{Strength: -j, Sites: []int{i, i + 1}, Ops: []string{"Sigmaz", "Sigmaz"}, Strings: []string{"Id"}}
		if err := g.AddTerm(term); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	hmpo, err := g.Build()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return hmpo
}

// denseExpectation contracts the MPS to a dense vector and evaluates
// <x|h|x> / <x|x> against the full MPO matrix.
func denseExpectation(t *testing.T, h *mpo.MPO, ms []*tensor.Dense, bufs [2]*tensor.Dense) complex64 {
	t.Helper()
	full, err := h.Full()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// vec_(s0 s1 ...) = m0[s0] m1[s1] ...
	vec := ms[0]
	buf := tensor.Zeros(1)
	for _, m := range ms[1:] {
		nAxes := len(vec.Shape())
		prod := tensor.Product(buf, vec, m, [][2]int{{nAxes - 1, 0}})
		vec = resetCopy(tensor.Zeros(1), prod)
	}
	d := 1
	for _, m := range ms {
		d *= m.Shape()[mpsUpAxis]
	}
	vec = vec.Reshape(d)

	var num, den complex64
	for i := 0; i < d; i++ {
		vi := conj(vec.At(i))
		den += vi * vec.At(i)
		for k := 0; k < d; k++ {
			num += vi * full.At(i, k) * vec.At(k)
		}
	}
	return num / den
}

func absDiff(got, want complex64) float64 {
	return cmplx.Abs(complex128(got - want))
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)
	os.Exit(m.Run())
}
