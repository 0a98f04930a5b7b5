// Package terms accumulates the onsite and coupling terms of a lattice Hamiltonian.
package terms

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/fumin/qlattice/site"
)

// A Term is a product of operators at strictly ascending MPS positions.
// Strings[m] is the operator filling the segment between Sites[m] and Sites[m+1].
type Term struct {
	Strength complex64
	Sites    []int
	Ops      []string
	Strings  []string
}

func (t Term) key() string {
	var b strings.Builder
	for m, i := range t.Sites {
		if m > 0 {
			fmt.Fprintf(&b, "|%s", t.Strings[m-1])
		}
		fmt.Fprintf(&b, "|%d:%s", i, t.Ops[m])
	}
	return b.String()
}

func (t Term) validate(n int) error {
	if len(t.Ops) != len(t.Sites) || len(t.Strings) != len(t.Ops)-1 {
		return errors.Errorf("%d sites, %d operators, %d strings", len(t.Sites), len(t.Ops), len(t.Strings))
	}
	if t.Sites[0] < 0 || t.Sites[0] >= n {
		return errors.Errorf("leftmost site %d out of chain of %d sites", t.Sites[0], n)
	}
	for m := 1; m < len(t.Sites); m++ {
		if t.Sites[m] <= t.Sites[m-1] {
			return errors.Errorf("sites %v not strictly ascending", t.Sites)
		}
	}
	return nil
}

// OnsiteTerms accumulates single site terms on a chain of n sites.
type OnsiteTerms struct {
	terms []map[string]complex64
}

// NewOnsiteTerms returns an empty accumulator over n sites.
func NewOnsiteTerms(n int) *OnsiteTerms {
	ot := &OnsiteTerms{terms: make([]map[string]complex64, n)}
	for i := range ot.terms {
		ot.terms[i] = map[string]complex64{}
	}
	return ot
}

// NSites is the number of chain sites.
func (ot *OnsiteTerms) NSites() int {
	return len(ot.terms)
}

// AddOnsiteTerm accumulates strength*op at site i.
// Terms with equal operator names merge by adding their strengths.
// Composite space joined names are allowed and validated at compile time.
func (ot *OnsiteTerms) AddOnsiteTerm(strength complex64, i int, op string) error {
	if op == "" {
		return errors.Errorf("invalid onsite operator %q", op)
	}
	if i < 0 || i >= len(ot.terms) {
		return errors.Errorf("site %d out of chain of %d sites", i, len(ot.terms))
	}
	ot.terms[i][op] += strength
	return nil
}

// Add merges another accumulator of the same length into ot.
func (ot *OnsiteTerms) Add(other *OnsiteTerms) error {
	if len(other.terms) != len(ot.terms) {
		return errors.Errorf("%d sites, other has %d", len(ot.terms), len(other.terms))
	}
	for i, ts := range other.terms {
		for op, s := range ts {
			ot.terms[i][op] += s
		}
	}
	return nil
}

// RemoveZeros drops terms whose strength magnitude is at most tol.
func (ot *OnsiteTerms) RemoveZeros(tol float64) {
	for _, ts := range ot.terms {
		for op, s := range ts {
			if absC(s) <= tol {
				delete(ts, op)
			}
		}
	}
}

// All lists the accumulated terms, ordered by site and operator name.
func (ot *OnsiteTerms) All() []Term {
	all := make([]Term, 0)
	for i, ts := range ot.terms {
		ops := make([]string, 0, len(ts))
		for op := range ts {
			ops = append(ops, op)
		}
		sort.Strings(ops)
		for _, op := range ops {
			all = append(all, Term{Strength: ts[op], Sites: []int{i}, Ops: []string{op}})
		}
	}
	return all
}

// ToTensors sums the terms of each site into an operator matrix.
// Sites without terms get a nil entry.
func (ot *OnsiteTerms) ToTensors(sites []*site.Site) ([]*tensor.Dense, error) {
	if len(sites) != len(ot.terms) {
		return nil, errors.Errorf("%d sites, %d expected", len(sites), len(ot.terms))
	}
	hs := make([]*tensor.Dense, len(sites))
	for i, ts := range ot.terms {
		for op, s := range ts {
			m, err := sites[i].Op(op)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("site %d", i))
			}
			if hs[i] == nil {
				d := sites[i].Dim()
				hs[i] = tensor.Zeros(d, d)
			}
			addScaled(hs[i], m, s)
		}
	}
	return hs, nil
}

// AddToBonds distributes the onsite terms onto the bond tensors hbond,
// where hbond[i] acts on the site pair (i-1, i).
// In the bulk a site's terms are split evenly between its two bonds.
// At the open ends of a finite chain the full weight goes to the single available bond.
func (ot *OnsiteTerms) AddToBonds(hbond []*tensor.Dense, sites []*site.Site, finite bool) error {
	n := len(ot.terms)
	if len(hbond) != n || len(sites) != n {
		return errors.Errorf("%d bonds, %d sites, %d expected", len(hbond), len(sites), n)
	}
	hs, err := ot.ToTensors(sites)
	if err != nil {
		return errors.Wrap(err, "")
	}
	for i, h := range hs {
		if h == nil {
			continue
		}
		left, right := complex64(0.5), complex64(0.5)
		if finite {
			switch i {
			case 0:
				left, right = 0, 1
			case n - 1:
				left, right = 1, 0
			}
		}
		if left != 0 {
			prev := sites[(i-1+n)%n]
			addInto(hbond, i, kron2(prev.Id(), scaled(h, left)))
		}
		if right != 0 {
			next := sites[(i+1)%n]
			addInto(hbond, (i+1)%n, kron2(scaled(h, right), next.Id()))
		}
	}
	return nil
}

// addInto accumulates the bond tensor t into hbond[j], allocating on first use.
func addInto(hbond []*tensor.Dense, j int, t *tensor.Dense) {
	if hbond[j] == nil {
		hbond[j] = t
		return
	}
	addScaled(hbond[j], t, 1)
}

// Coupling accumulates multi site terms.
// CouplingTerms is restricted to two operators per term, while
// MultiCouplingTerms holds arbitrary products.
type Coupling interface {
	NSites() int
	AddCouplingTerm(strength complex64, i, j int, opI, opJ, opString string) error
	AddTerm(t Term) error
	Add(other Coupling) error
	RemoveZeros(tol float64)
	MaxRange() int
	All() []Term
}

// CouplingTerms accumulates two site coupling terms.
type CouplingTerms struct {
	n     int
	terms map[string]*Term
}

// NewCouplingTerms returns an empty accumulator over n sites.
func NewCouplingTerms(n int) *CouplingTerms {
	return &CouplingTerms{n: n, terms: map[string]*Term{}}
}

// NSites is the number of chain sites.
func (ct *CouplingTerms) NSites() int {
	return ct.n
}

// AddCouplingTerm accumulates strength*opI_i*opJ_j with opString filling the sites between.
// The positions must satisfy 0 <= i < j, and terms with equal
// operator content merge by adding their strengths.
func (ct *CouplingTerms) AddCouplingTerm(strength complex64, i, j int, opI, opJ, opString string) error {
	t := Term{Strength: strength, Sites: []int{i, j}, Ops: []string{opI, opJ}, Strings: []string{opString}}
	if err := t.validate(ct.n); err != nil {
		return errors.Wrap(err, "")
	}
	ct.add(t)
	return nil
}

// AddTerm accumulates a two operator term.
func (ct *CouplingTerms) AddTerm(t Term) error {
	if len(t.Ops) != 2 {
		return errors.Errorf("%d operators, term is not a two site coupling", len(t.Ops))
	}
	if err := t.validate(ct.n); err != nil {
		return errors.Wrap(err, "")
	}
	ct.add(t)
	return nil
}

func (ct *CouplingTerms) add(t Term) {
	key := t.key()
	if prev, ok := ct.terms[key]; ok {
		prev.Strength += t.Strength
		return
	}
	ct.terms[key] = &t
}

// Add merges another accumulator into ct.
// Terms with more than two operators are rejected, use
// MultiCouplingTerms.UpgradeFrom to widen first.
func (ct *CouplingTerms) Add(other Coupling) error {
	if other.NSites() != ct.n {
		return errors.Errorf("%d sites, other has %d", ct.n, other.NSites())
	}
	for _, t := range other.All() {
		if err := ct.AddTerm(t); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// RemoveZeros drops terms whose strength magnitude is at most tol.
func (ct *CouplingTerms) RemoveZeros(tol float64) {
	removeZeros(ct.terms, tol)
}

// MaxRange is the largest distance Sites[last]-Sites[0] over all terms.
func (ct *CouplingTerms) MaxRange() int {
	return maxRange(ct.terms)
}

// All lists the accumulated terms in a deterministic order.
func (ct *CouplingTerms) All() []Term {
	return allTerms(ct.terms)
}

// MultiCouplingTerms accumulates coupling terms with two or more operators.
type MultiCouplingTerms struct {
	n     int
	terms map[string]*Term
}

// NewMultiCouplingTerms returns an empty accumulator over n sites.
func NewMultiCouplingTerms(n int) *MultiCouplingTerms {
	return &MultiCouplingTerms{n: n, terms: map[string]*Term{}}
}

// UpgradeFrom widens a two site accumulator into a fresh multi coupling accumulator.
func UpgradeFrom(ct *CouplingTerms) *MultiCouplingTerms {
	mt := NewMultiCouplingTerms(ct.n)
	for key, t := range ct.terms {
		cp := *t
		mt.terms[key] = &cp
	}
	return mt
}

// NSites is the number of chain sites.
func (mt *MultiCouplingTerms) NSites() int {
	return mt.n
}

// AddCouplingTerm accumulates a two operator term.
func (mt *MultiCouplingTerms) AddCouplingTerm(strength complex64, i, j int, opI, opJ, opString string) error {
	t := Term{Strength: strength, Sites: []int{i, j}, Ops: []string{opI, opJ}, Strings: []string{opString}}
	return mt.AddTerm(t)
}

// AddMultiCouplingTerm accumulates the product of ops at the given
// strictly ascending MPS positions, with opStrings filling the segments in between.
func (mt *MultiCouplingTerms) AddMultiCouplingTerm(strength complex64, sites []int, ops []string, opStrings []string) error {
	t := Term{Strength: strength, Sites: sites, Ops: ops, Strings: opStrings}
	return mt.AddTerm(t)
}

// AddTerm accumulates a term of two or more operators.
func (mt *MultiCouplingTerms) AddTerm(t Term) error {
	if len(t.Ops) < 2 {
		return errors.Errorf("%d operators, coupling terms need at least two", len(t.Ops))
	}
	if err := t.validate(mt.n); err != nil {
		return errors.Wrap(err, "")
	}
	key := t.key()
	if prev, ok := mt.terms[key]; ok {
		prev.Strength += t.Strength
		return nil
	}
	mt.terms[key] = &t
	return nil
}

// Add merges another accumulator into mt.
func (mt *MultiCouplingTerms) Add(other Coupling) error {
	if other.NSites() != mt.n {
		return errors.Errorf("%d sites, other has %d", mt.n, other.NSites())
	}
	for _, t := range other.All() {
		if err := mt.AddTerm(t); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// RemoveZeros drops terms whose strength magnitude is at most tol.
func (mt *MultiCouplingTerms) RemoveZeros(tol float64) {
	removeZeros(mt.terms, tol)
}

// MaxRange is the largest distance Sites[last]-Sites[0] over all terms.
func (mt *MultiCouplingTerms) MaxRange() int {
	return maxRange(mt.terms)
}

// All lists the accumulated terms in a deterministic order.
func (mt *MultiCouplingTerms) All() []Term {
	return allTerms(mt.terms)
}

func removeZeros(terms map[string]*Term, tol float64) {
	for key, t := range terms {
		if absC(t.Strength) <= tol {
			delete(terms, key)
		}
	}
}

func maxRange(terms map[string]*Term) int {
	rng := 0
	for _, t := range terms {
		rng = max(rng, t.Sites[len(t.Sites)-1]-t.Sites[0])
	}
	return rng
}

func allTerms(terms map[string]*Term) []Term {
	keys := make([]string, 0, len(terms))
	for key := range terms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	all := make([]Term, 0, len(keys))
	for _, key := range keys {
		all = append(all, *terms[key])
	}
	return all
}

// ToNNBonds compiles two site nearest neighbor couplings into bond
// tensors, where the tensor at index j acts on the site pair (j-1, j)
// with axes (p_{j-1}, p_j, p*_{j-1}, p*_j).
// Couplings of range larger than one are rejected.
func ToNNBonds(ct Coupling, sites []*site.Site) ([]*tensor.Dense, error) {
	n := len(sites)
	if ct.NSites() != n {
		return nil, errors.Errorf("%d sites, coupling terms over %d", n, ct.NSites())
	}
	hbond := make([]*tensor.Dense, n)
	for _, t := range ct.All() {
		if len(t.Sites) != 2 || t.Sites[1]-t.Sites[0] != 1 {
			return nil, errors.Errorf("term at sites %v is not a nearest neighbor coupling", t.Sites)
		}
		i := t.Sites[0]
		mi, err := sites[i%n].Op(t.Ops[0])
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		mj, err := sites[t.Sites[1]%n].Op(t.Ops[1])
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		addInto(hbond, t.Sites[1]%n, kron2(scaled(mi, t.Strength), mj))
	}
	return hbond, nil
}

// OpAt pairs an operator name with the MPS position it acts on.
type OpAt struct {
	Op string
	I  int
}

// OrderCombineTerm sorts the operators of a term by position,
// multiplying operators that land on the same site and tracking the
// fermionic sign picked up by reordering operators that need
// Jordan-Wigner strings.
func OrderCombineTerm(term []OpAt, sites []*site.Site) ([]OpAt, complex64, error) {
	n := len(sites)
	ordered := make([]OpAt, len(term))
	copy(ordered, term)
	sort.SliceStable(ordered, func(a, b int) bool { return ordered[a].I < ordered[b].I })

	// The sign is the parity of the permutation restricted to the
	// operators anticommuting with the Jordan-Wigner string.
	sign := complex64(1)
	for a := 0; a < len(term); a++ {
		if !sites[mod(term[a].I, n)].OpNeedsJW(term[a].Op) {
			continue
		}
		for b := a + 1; b < len(term); b++ {
			if term[b].I < term[a].I && sites[mod(term[b].I, n)].OpNeedsJW(term[b].Op) {
				sign = -sign
			}
		}
	}

	combined := make([]OpAt, 0, len(ordered))
	for _, op := range ordered {
		last := len(combined) - 1
		if last >= 0 && combined[last].I == op.I {
			combined[last].Op = site.MultiplyOpNames([]string{combined[last].Op, op.Op})
			continue
		}
		combined = append(combined, op)
	}
	return combined, sign, nil
}

// MultiCouplingHandleJW converts an ordered list of operators into a
// Term with Jordan-Wigner strings on the segments between them.
//
// With opString empty the strings are determined automatically: a
// segment carries "JW" whenever an odd number of operators to its left
// need one, and the operator left of each such segment absorbs a
// trailing "JW" factor. An explicit opString is used verbatim on every
// segment without absorbing factors.
func MultiCouplingHandleJW(strength complex64, term []OpAt, sites []*site.Site, opString string) (Term, error) {
	n := len(sites)
	t := Term{
		Strength: strength,
		Sites:    make([]int, len(term)),
		Ops:      make([]string, len(term)),
		Strings:  make([]string, max(len(term)-1, 0)),
	}
	for m, op := range term {
		t.Sites[m] = op.I
		t.Ops[m] = op.Op
	}

	if opString != "" {
		for m := range t.Strings {
			t.Strings[m] = opString
		}
		return t, nil
	}

	parity := false
	for m, op := range term {
		if sites[mod(op.I, n)].OpNeedsJW(op.Op) {
			parity = !parity
		}
		if m == len(term)-1 {
			break
		}
		if parity {
			t.Ops[m] = site.MultiplyOpNames([]string{t.Ops[m], "JW"})
			t.Strings[m] = "JW"
		} else {
			t.Strings[m] = "Id"
		}
	}
	if parity {
		return Term{}, errors.Errorf("odd number of Jordan-Wigner operators in term %v %v", t.Sites, t.Ops)
	}
	return t, nil
}

func mod(i, n int) int {
	return ((i % n) + n) % n
}

// kron2 builds the two site tensor left x right with axes (p0, p1, p0*, p1*).
func kron2(left, right *tensor.Dense) *tensor.Dense {
	dl, dr := left.Shape()[0], right.Shape()[0]
	t := tensor.Zeros(dl, dr, dl, dr)
	for x0 := 0; x0 < dl; x0++ {
		for y0 := 0; y0 < dl; y0++ {
			for x1 := 0; x1 < dr; x1++ {
				for y1 := 0; y1 < dr; y1++ {
					t.SetAt([]int{x0, x1, y0, y1}, left.At(x0, y0)*right.At(x1, y1))
				}
			}
		}
	}
	return t
}

func scaled(t *tensor.Dense, c complex64) *tensor.Dense {
	shape := t.Shape()
	s := tensor.Zeros(shape...)
	addScaled(s, t, c)
	return s
}

func addScaled(dst, src *tensor.Dense, c complex64) {
	for ijk, v := range src.All() {
		dst.SetAt(ijk, dst.At(ijk...)+c*v)
	}
}

func absC(c complex64) float64 {
	return math.Hypot(float64(real(c)), float64(imag(c)))
}
