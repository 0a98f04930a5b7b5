// Package model builds Hamiltonian representations of quantum lattice models.
//
// A model accumulates onsite and coupling terms over a lattice and
// compiles them into nearest neighbor bond tensors or a matrix product
// operator. Fermionic operators are handled through Jordan-Wigner
// strings, which are inserted automatically when terms are added.
package model

import (
	"fmt"
	"log"
	"math/cmplx"
	"strings"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/fumin/qlattice/lattice"
	"github.com/fumin/qlattice/mpo"
	"github.com/fumin/qlattice/site"
	"github.com/fumin/qlattice/terms"
)

// Options are optional arguments of New.
type Options struct {
	explicitPlusHC bool
}

// NewOptions returns the default model options.
func NewOptions() Options {
	return Options{}
}

// ExplicitPlusHC makes the model store only half of each hermitian
// pair of terms. Strengths of terms added without PlusHC are halved,
// and the conjugate half is reconstructed when compiling.
func (o Options) ExplicitPlusHC(b bool) Options {
	o.explicitPlusHC = b
	return o
}

// CouplingOptions are optional arguments of the term adding operations.
type CouplingOptions struct {
	category string
	plusHC   bool
	opString string
}

// NewCouplingOptions returns the default term options.
func NewCouplingOptions() CouplingOptions {
	return CouplingOptions{}
}

// Category sets the category under which the terms are accumulated.
// Terms of the same category merge by adding strengths.
func (o CouplingOptions) Category(c string) CouplingOptions {
	o.category = c
	return o
}

// PlusHC also adds the hermitian conjugate of the terms.
func (o CouplingOptions) PlusHC(b bool) CouplingOptions {
	o.plusHC = b
	return o
}

// OpString sets an explicit string operator filling the segments
// between the coupled operators, overriding the automatic
// Jordan-Wigner handling.
func (o CouplingOptions) OpString(op string) CouplingOptions {
	o.opString = op
	return o
}

// Model accumulates the Hamiltonian terms of a lattice model.
type Model struct {
	lat            *lattice.Lattice
	explicitPlusHC bool

	onsite   map[string]*terms.OnsiteTerms
	coupling map[string]terms.Coupling

	// HBond are the compiled bond tensors, where HBond[i] acts on the
	// site pair (i-1, i). Set by CalcHBond.
	HBond []*tensor.Dense
	// HMPO is the compiled matrix product operator. Set by CalcHMPO.
	HMPO *mpo.MPO
}

// New returns an empty model over the given lattice.
func New(lat *lattice.Lattice, options ...Options) *Model {
	opt := NewOptions()
	if len(options) == 1 {
		opt = options[0]
	}
	return &Model{
		lat:            lat,
		explicitPlusHC: opt.explicitPlusHC,
		onsite:         map[string]*terms.OnsiteTerms{},
		coupling:       map[string]terms.Coupling{},
	}
}

// Lattice returns the lattice of the model.
func (m *Model) Lattice() *lattice.Lattice {
	return m.lat
}

// ExplicitPlusHC reports whether the model stores only half of each hermitian pair.
func (m *Model) ExplicitPlusHC() bool {
	return m.explicitPlusHC
}

// AddOnsite adds strength[x]*op on site (x, u) for every unit cell x.
// strength is tiled periodically to the length of the chain, so a
// single entry applies uniformly.
func (m *Model) AddOnsite(strength []complex64, u int, op string, options ...CouplingOptions) error {
	opt := NewCouplingOptions()
	if len(options) == 1 {
		opt = options[0]
	}
	if opt.opString != "" {
		return errors.Errorf("onsite terms have no string operator")
	}
	cell := m.lat.UnitCell()
	if u < 0 || u >= len(cell) {
		return errors.Errorf("unit cell index %d, cell size %d", u, len(cell))
	}
	if !cell[u].ValidOp(op) {
		return errors.Errorf("invalid operator %q on %s", op, cell[u])
	}
	if cell[u].OpNeedsJW(op) {
		return errors.Errorf("onsite operator %q needs a Jordan-Wigner string", op)
	}

	str, err := tile(strength, m.lat.L())
	if err != nil {
		return errors.Wrap(err, "")
	}
	if allZero(str) {
		return nil
	}
	plusHC := opt.plusHC
	if m.explicitPlusHC {
		if plusHC {
			plusHC = false
		} else {
			halve(str)
		}
	}

	category := opt.category
	if category == "" {
		category = op
	}
	ot, ok := m.onsite[category]
	if !ok {
		ot = terms.NewOnsiteTerms(m.lat.NSites())
		m.onsite[category] = ot
	}
	for x := 0; x < m.lat.L(); x++ {
		if err := ot.AddOnsiteTerm(str[x], m.lat.MPSIndex(x, u), op); err != nil {
			return errors.Wrap(err, "")
		}
	}

	if plusHC {
		hcOp, err := cell[u].HCOpName(op)
		if err != nil {
			return errors.Wrap(err, "")
		}
		hcOpt := NewCouplingOptions().Category(category)
		if err := m.AddOnsite(conjSlice(str), u, hcOp, hcOpt); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// AddCoupling adds strength[x]*op1_{x,u1}*op2_{x+dx,u2} for every unit cell x.
//
// When exactly both operators need Jordan-Wigner strings, a "JW"
// string is inserted on the sites in between and absorbed into the
// left operator. If exactly one needs a string, the term is rejected.
func (m *Model) AddCoupling(strength []complex64, u1 int, op1 string, u2 int, op2 string, dx int, options ...CouplingOptions) error {
	opt := NewCouplingOptions()
	if len(options) == 1 {
		opt = options[0]
	}
	cell := m.lat.UnitCell()
	if u1 < 0 || u1 >= len(cell) || u2 < 0 || u2 >= len(cell) {
		return errors.Errorf("unit cell indices %d %d, cell size %d", u1, u2, len(cell))
	}
	site1, site2 := cell[u1], cell[u2]
	if !site1.ValidOp(op1) {
		return errors.Errorf("invalid operator %q on %s", op1, site1)
	}
	if !site2.ValidOp(op2) {
		return errors.Errorf("invalid operator %q on %s", op2, site2)
	}
	if dx == 0 && u1 == u2 {
		return errors.Errorf("coupling of %q and %q is purely onsite, use AddOnsite", op1, op2)
	}

	need1, need2 := site1.OpNeedsJW(op1), site2.OpNeedsJW(op2)
	if need1 != need2 {
		return errors.Errorf("unpaired Jordan-Wigner operator in coupling %q %q", op1, op2)
	}
	opString := opt.opString
	if opString == "" {
		opString = "Id"
		if need1 {
			opString = "JW"
		}
	}
	for _, s := range cell {
		if !s.ValidOp(opString) {
			return errors.Errorf("invalid string operator %q on %s", opString, s)
		}
	}

	pairs, shape, err := m.lat.PossibleCouplings(u1, u2, dx)
	if err != nil {
		return errors.Wrap(err, "")
	}
	str, err := tile(strength, shape)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if allZero(str) {
		return nil
	}
	plusHC := opt.plusHC
	if m.explicitPlusHC {
		if plusHC {
			plusHC = false
		} else {
			halve(str)
		}
	}

	category := opt.category
	if category == "" {
		category = fmt.Sprintf("%s_i %s_j", op1, op2)
	}
	ct, ok := m.coupling[category]
	if !ok {
		ct = terms.NewCouplingTerms(m.lat.NSites())
		m.coupling[category] = ct
	}
	for _, pr := range pairs {
		s := str[pr.Ring]
		if s == 0 {
			continue
		}
		i, j, oI, oJ := pr.I, pr.J, op1, op2
		if j < i {
			i, j = j, i
			oI, oJ = op2, op1
			switch opString {
			case "Id":
			case "JW":
				s = -s
			default:
				return errors.Errorf("cannot swap operators around string %q", opString)
			}
		}
		if opString == "JW" {
			oI = site.MultiplyOpNames([]string{oI, opString})
		}
		if err := ct.AddCouplingTerm(s, i, j, oI, oJ, opString); err != nil {
			return errors.Wrap(err, "")
		}
	}

	if plusHC {
		hc1, err := site1.HCOpName(op1)
		if err != nil {
			return errors.Wrap(err, "")
		}
		hc2, err := site2.HCOpName(op2)
		if err != nil {
			return errors.Wrap(err, "")
		}
		hcOpt := NewCouplingOptions().Category(category).OpString(opt.opString)
		if err := m.AddCoupling(conjSlice(str), u2, hc2, u1, hc1, -dx, hcOpt); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// A MultiOp is one operator of a multi site coupling, placed at unit
// cell offset Dx and cell index U.
type MultiOp struct {
	Op string
	Dx int
	U  int
}

// AddMultiCoupling adds the product of the given operators for every unit cell.
// Operators are reordered by position with fermionic signs tracked,
// operators landing on the same site are multiplied, and Jordan-Wigner
// strings are filled into the segments in between.
func (m *Model) AddMultiCoupling(strength []complex64, ops []MultiOp, options ...CouplingOptions) error {
	opt := NewCouplingOptions()
	if len(options) == 1 {
		opt = options[0]
	}
	if len(ops) < 2 {
		return errors.Errorf("%d operators, multi couplings need at least two", len(ops))
	}
	cell := m.lat.UnitCell()
	jwCount := 0
	onsiteOnly := true
	for _, op := range ops {
		if op.U < 0 || op.U >= len(cell) {
			return errors.Errorf("unit cell index %d, cell size %d", op.U, len(cell))
		}
		if !cell[op.U].ValidOp(op.Op) {
			return errors.Errorf("invalid operator %q on %s", op.Op, cell[op.U])
		}
		if cell[op.U].OpNeedsJW(op.Op) {
			jwCount++
		}
		if op.Dx != ops[0].Dx || op.U != ops[0].U {
			onsiteOnly = false
		}
	}
	if onsiteOnly {
		return errors.Errorf("coupling %v is purely onsite, use AddOnsite", ops)
	}
	if jwCount%2 == 1 {
		return errors.Errorf("odd number of Jordan-Wigner operators in coupling %v", ops)
	}
	if opt.opString != "" {
		for _, s := range cell {
			if !s.ValidOp(opt.opString) {
				return errors.Errorf("invalid string operator %q on %s", opt.opString, s)
			}
		}
	}

	dxs := make([]int, len(ops))
	us := make([]int, len(ops))
	for k, op := range ops {
		dxs[k] = op.Dx
		us[k] = op.U
	}
	placements, shape, err := m.lat.PossibleMultiCouplings(dxs, us)
	if err != nil {
		return errors.Wrap(err, "")
	}
	str, err := tile(strength, shape)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if allZero(str) {
		return nil
	}
	plusHC := opt.plusHC
	if m.explicitPlusHC {
		if plusHC {
			plusHC = false
		} else {
			halve(str)
		}
	}

	category := opt.category
	if category == "" {
		names := make([]string, len(ops))
		for k, op := range ops {
			names[k] = fmt.Sprintf("%s_%d", op.Op, op.Dx)
		}
		category = strings.Join(names, " ")
	}
	mt, err := m.multiCoupling(category)
	if err != nil {
		return errors.Wrap(err, "")
	}
	sites := m.lat.MPSSites()
	for _, pl := range placements {
		s := str[pl.Ring]
		if s == 0 {
			continue
		}
		term := make([]terms.OpAt, len(ops))
		for k, op := range ops {
			term[k] = terms.OpAt{Op: op.Op, I: pl.Is[k]}
		}
		ordered, sign, err := terms.OrderCombineTerm(term, sites)
		if err != nil {
			return errors.Wrap(err, "")
		}
		t, err := terms.MultiCouplingHandleJW(s*sign, ordered, sites, opt.opString)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if err := mt.AddTerm(t); err != nil {
			return errors.Wrap(err, "")
		}
	}

	if plusHC {
		hcOps := make([]MultiOp, 0, len(ops))
		for k := len(ops) - 1; k >= 0; k-- {
			hcName, err := cell[ops[k].U].HCOpName(ops[k].Op)
			if err != nil {
				return errors.Wrap(err, "")
			}
			hcOps = append(hcOps, MultiOp{Op: hcName, Dx: ops[k].Dx, U: ops[k].U})
		}
		hcOpt := NewCouplingOptions().Category(category).OpString(opt.opString)
		if err := m.AddMultiCoupling(conjSlice(str), hcOps, hcOpt); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// multiCoupling returns the multi coupling accumulator of a category,
// widening an existing two site accumulator if needed.
func (m *Model) multiCoupling(category string) (*terms.MultiCouplingTerms, error) {
	ct, ok := m.coupling[category]
	if !ok {
		mt := terms.NewMultiCouplingTerms(m.lat.NSites())
		m.coupling[category] = mt
		return mt, nil
	}
	switch v := ct.(type) {
	case *terms.MultiCouplingTerms:
		return v, nil
	case *terms.CouplingTerms:
		mt := terms.UpgradeFrom(v)
		m.coupling[category] = mt
		return mt, nil
	default:
		return nil, errors.Errorf("unknown coupling accumulator %T", ct)
	}
}

// AddOnsiteTerm adds strength*op at the single MPS position i.
func (m *Model) AddOnsiteTerm(strength complex64, i int, op string, options ...CouplingOptions) error {
	opt := NewCouplingOptions()
	if len(options) == 1 {
		opt = options[0]
	}
	s := []complex64{strength}
	plusHC := opt.plusHC
	if m.explicitPlusHC {
		if plusHC {
			plusHC = false
		} else {
			halve(s)
		}
	}
	category := opt.category
	if category == "" {
		category = op
	}
	ot, ok := m.onsite[category]
	if !ok {
		ot = terms.NewOnsiteTerms(m.lat.NSites())
		m.onsite[category] = ot
	}
	if err := ot.AddOnsiteTerm(s[0], i, op); err != nil {
		return errors.Wrap(err, "")
	}
	if plusHC {
		hcOp, err := m.lat.SiteAt(i).HCOpName(op)
		if err != nil {
			return errors.Wrap(err, "")
		}
		hcOpt := NewCouplingOptions().Category(category)
		if err := m.AddOnsiteTerm(conj(s[0]), i, hcOp, hcOpt); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// AddCouplingTerm adds strength*opI_i*opJ_j at the MPS positions i < j,
// with opString filling the sites in between.
func (m *Model) AddCouplingTerm(strength complex64, i, j int, opI, opJ, opString string, options ...CouplingOptions) error {
	opt := NewCouplingOptions()
	if len(options) == 1 {
		opt = options[0]
	}
	s := []complex64{strength}
	plusHC := opt.plusHC
	if m.explicitPlusHC {
		if plusHC {
			plusHC = false
		} else {
			halve(s)
		}
	}
	category := opt.category
	if category == "" {
		category = fmt.Sprintf("%s_i %s_j", opI, opJ)
	}
	ct, ok := m.coupling[category]
	if !ok {
		ct = terms.NewCouplingTerms(m.lat.NSites())
		m.coupling[category] = ct
	}
	if err := ct.AddCouplingTerm(s[0], i, j, opI, opJ, opString); err != nil {
		return errors.Wrap(err, "")
	}
	if plusHC {
		hcI, err := m.lat.SiteAt(i).HCOpName(opI)
		if err != nil {
			return errors.Wrap(err, "")
		}
		hcJ, err := m.lat.SiteAt(j).HCOpName(opJ)
		if err != nil {
			return errors.Wrap(err, "")
		}
		hcS, err := m.lat.SiteAt(i).HCOpName(opString)
		if err != nil {
			return errors.Wrap(err, "")
		}
		hcOpt := NewCouplingOptions().Category(category)
		if err := m.AddCouplingTerm(conj(s[0]), i, j, hcI, hcJ, hcS, hcOpt); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// AddMultiCouplingTerm adds the product of ops at the given strictly
// ascending MPS positions, with opStrings filling the segments in between.
func (m *Model) AddMultiCouplingTerm(strength complex64, sites []int, ops []string, opStrings []string, options ...CouplingOptions) error {
	opt := NewCouplingOptions()
	if len(options) == 1 {
		opt = options[0]
	}
	s := []complex64{strength}
	plusHC := opt.plusHC
	if m.explicitPlusHC {
		if plusHC {
			plusHC = false
		} else {
			halve(s)
		}
	}
	category := opt.category
	if category == "" {
		category = strings.Join(ops, " ")
	}
	mt, err := m.multiCoupling(category)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := mt.AddMultiCouplingTerm(s[0], sites, ops, opStrings); err != nil {
		return errors.Wrap(err, "")
	}
	if plusHC {
		hcOps := make([]string, len(ops))
		hcStrings := make([]string, len(opStrings))
		for k, op := range ops {
			hc, err := m.lat.SiteAt(sites[k]).HCOpName(op)
			if err != nil {
				return errors.Wrap(err, "")
			}
			hcOps[k] = hc
		}
		for k, op := range opStrings {
			hc, err := m.lat.SiteAt(sites[k]).HCOpName(op)
			if err != nil {
				return errors.Wrap(err, "")
			}
			hcStrings[k] = hc
		}
		hcOpt := NewCouplingOptions().Category(category)
		if err := m.AddMultiCouplingTerm(conj(s[0]), sites, hcOps, hcStrings, hcOpt); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// AddLocalTerm adds strength times the product of the given operators,
// placed at arbitrary MPS positions in arbitrary order. Operators are
// reordered by position with fermionic signs tracked, operators landing
// on the same site are multiplied, and Jordan-Wigner strings are filled
// into the segments in between.
func (m *Model) AddLocalTerm(strength complex64, term []terms.OpAt, options ...CouplingOptions) error {
	opt := NewCouplingOptions()
	if len(options) == 1 {
		opt = options[0]
	}
	if len(term) == 0 {
		return errors.Errorf("empty term")
	}
	n := m.lat.NSites()
	for _, o := range term {
		if o.I < 0 || o.I >= n {
			return errors.Errorf("site %d out of range [0, %d)", o.I, n)
		}
		if !m.lat.SiteAt(o.I).ValidOp(o.Op) {
			return errors.Errorf("invalid operator %q on %s", o.Op, m.lat.SiteAt(o.I))
		}
	}
	s := []complex64{strength}
	plusHC := opt.plusHC
	if m.explicitPlusHC {
		if plusHC {
			plusHC = false
		} else {
			halve(s)
		}
	}
	category := opt.category
	if category == "" {
		names := make([]string, len(term))
		for k, o := range term {
			names[k] = fmt.Sprintf("%s_%d", o.Op, o.I)
		}
		category = "local " + strings.Join(names, " ")
	}

	sites := m.lat.MPSSites()
	ordered, sign, err := terms.OrderCombineTerm(term, sites)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if len(ordered) == 1 {
		o := ordered[0]
		if sites[o.I].OpNeedsJW(o.Op) {
			return errors.Errorf("unpaired Jordan-Wigner operator %q", o.Op)
		}
		ot, ok := m.onsite[category]
		if !ok {
			ot = terms.NewOnsiteTerms(n)
			m.onsite[category] = ot
		}
		if err := ot.AddOnsiteTerm(s[0]*sign, o.I, o.Op); err != nil {
			return errors.Wrap(err, "")
		}
	} else {
		t, err := terms.MultiCouplingHandleJW(s[0]*sign, ordered, sites, opt.opString)
		if err != nil {
			return errors.Wrap(err, "")
		}
		mt, err := m.multiCoupling(category)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if err := mt.AddTerm(t); err != nil {
			return errors.Wrap(err, "")
		}
	}

	if plusHC {
		hcTerm := make([]terms.OpAt, 0, len(term))
		for k := len(term) - 1; k >= 0; k-- {
			hc, err := m.lat.SiteAt(term[k].I).HCOpName(term[k].Op)
			if err != nil {
				return errors.Wrap(err, "")
			}
			hcTerm = append(hcTerm, terms.OpAt{Op: hc, I: term[k].I})
		}
		hcOpt := NewCouplingOptions().Category(category).OpString(opt.opString)
		if err := m.AddLocalTerm(conj(s[0]), hcTerm, hcOpt); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// CouplingStrengthAddExtFlux threads an external flux through the
// periodic boundary by multiplying the wrapping entries of a coupling
// strength array with exp(-i*phase) for positive dx.
// The returned array has the coupling shape of dx.
func (m *Model) CouplingStrengthAddExtFlux(strength []complex64, dx int, phase float64) ([]complex64, error) {
	if !m.lat.Periodic() && phase != 0 {
		return nil, errors.Errorf("cannot add nonzero external flux to an open chain")
	}
	l := m.lat.L()
	str, err := tile(strength, m.lat.CouplingShape(dx))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	factor := complex64(cmplx.Exp(complex(0, -phase)))
	if dx < 0 {
		factor = conj(factor)
	}
	for x0 := range str {
		if x1 := x0 + dx; x1 < 0 || x1 >= l {
			str[x0] *= factor
		}
	}
	return str, nil
}

// AllOnsiteTerms merges the onsite terms of all categories.
func (m *Model) AllOnsiteTerms() *terms.OnsiteTerms {
	all := terms.NewOnsiteTerms(m.lat.NSites())
	for _, category := range sortedKeys(m.onsite) {
		if err := all.Add(m.onsite[category]); err != nil {
			panic(fmt.Sprintf("%+v", err))
		}
	}
	return all
}

// AllCouplingTerms merges the coupling terms of all categories.
func (m *Model) AllCouplingTerms() terms.Coupling {
	multi := false
	for _, ct := range m.coupling {
		if _, ok := ct.(*terms.MultiCouplingTerms); ok {
			multi = true
		}
	}
	var all terms.Coupling = terms.NewCouplingTerms(m.lat.NSites())
	if multi {
		all = terms.NewMultiCouplingTerms(m.lat.NSites())
	}
	for _, category := range sortedKeys(m.coupling) {
		if err := all.Add(m.coupling[category]); err != nil {
			panic(fmt.Sprintf("%+v", err))
		}
	}
	return all
}

// CalcHOnsite sums the onsite terms of each site into operator
// matrices, with nil entries on sites without terms.
//
// Deprecated: onsite terms are distributed onto bonds by CalcHBond and
// into the MPO by CalcHMPO, use those instead.
func (m *Model) CalcHOnsite(tol float64) ([]*tensor.Dense, error) {
	log.Printf("CalcHOnsite is deprecated, use CalcHBond or CalcHMPO")
	ot := m.AllOnsiteTerms()
	ot.RemoveZeros(tol)
	hs, err := ot.ToTensors(m.lat.MPSSites())
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return hs, nil
}
