// Package site defines local Hilbert spaces together with their named onsite operators.
//
// Operator names containing spaces such as "Cd JW" denote matrix products
// evaluated left to right.
package site

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

// Site is a local Hilbert space with named operators attached to it.
type Site struct {
	dim     int
	ops     map[string]*tensor.Dense
	needsJW map[string]bool
	hc      map[string]string
}

// New returns a site of the given dimension.
// Every site carries "Id" and a Jordan-Wigner operator "JW" that defaults to the identity.
func New(dim int) *Site {
	s := &Site{
		dim:     dim,
		ops:     map[string]*tensor.Dense{},
		needsJW: map[string]bool{},
		hc:      map[string]string{},
	}
	id := tensor.Zeros(dim, dim)
	for i := 0; i < dim; i++ {
		id.SetAt([]int{i, i}, 1)
	}
	s.ops["Id"] = id
	s.hc["Id"] = "Id"
	s.ops["JW"] = id
	s.hc["JW"] = "JW"
	return s
}

// AddOp attaches a named operator to the site.
// hcName is the name of the hermitian conjugate operator, and needsJW
// declares whether the operator anticommutes with the Jordan-Wigner string.
func (s *Site) AddOp(name string, op [][]complex64, needsJW bool, hcName string) error {
	if name == "" || strings.ContainsRune(name, ' ') {
		return errors.Errorf("invalid operator name %q", name)
	}
	if _, ok := s.ops[name]; ok && name != "JW" {
		return errors.Errorf("operator %q already defined", name)
	}
	if len(op) != s.dim {
		return errors.Errorf("operator %q has %d rows, site dimension is %d", name, len(op), s.dim)
	}
	m := tensor.Zeros(s.dim, s.dim)
	for i, row := range op {
		if len(row) != s.dim {
			return errors.Errorf("operator %q row %d has %d columns, site dimension is %d", name, i, len(row), s.dim)
		}
		for j, v := range row {
			m.SetAt([]int{i, j}, v)
		}
	}
	s.ops[name] = m
	s.needsJW[name] = needsJW
	s.hc[name] = hcName
	return nil
}

// Dim is the dimension of the local Hilbert space.
func (s *Site) Dim() int {
	return s.dim
}

// Id is the identity operator.
func (s *Site) Id() *tensor.Dense {
	return s.ops["Id"]
}

// Names lists the defined operator names in sorted order.
func (s *Site) Names() []string {
	names := make([]string, 0, len(s.ops))
	for name := range s.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidOp reports whether every space separated factor of name is a defined operator.
func (s *Site) ValidOp(name string) bool {
	if name == "" {
		return false
	}
	for _, f := range strings.Split(name, " ") {
		if _, ok := s.ops[f]; !ok {
			return false
		}
	}
	return true
}

// Op returns the matrix of a possibly composite operator name.
func (s *Site) Op(name string) (*tensor.Dense, error) {
	factors := strings.Split(name, " ")
	m, ok := s.ops[factors[0]]
	if !ok {
		return nil, errors.Errorf("unknown operator %q on %s", factors[0], s)
	}
	for _, f := range factors[1:] {
		fm, ok := s.ops[f]
		if !ok {
			return nil, errors.Errorf("unknown operator %q on %s", f, s)
		}
		m = tensor.Product(tensor.Zeros(1), m, fm, [][2]int{{1, 0}})
	}
	return m, nil
}

// OpNeedsJW reports whether an operator name anticommutes with the Jordan-Wigner string.
// For composite names the flags of the factors compose by exclusive or.
func (s *Site) OpNeedsJW(name string) bool {
	needs := false
	for _, f := range strings.Split(name, " ") {
		if s.needsJW[f] {
			needs = !needs
		}
	}
	return needs
}

// HCOpName returns the name of the hermitian conjugate operator.
// For composite names the factors are conjugated individually and reversed.
func (s *Site) HCOpName(name string) (string, error) {
	factors := strings.Split(name, " ")
	hcs := make([]string, 0, len(factors))
	for i := len(factors) - 1; i >= 0; i-- {
		hc, ok := s.hc[factors[i]]
		if !ok {
			return "", errors.Errorf("unknown operator %q on %s", factors[i], s)
		}
		hcs = append(hcs, hc)
	}
	return strings.Join(hcs, " "), nil
}

// MultiplyOpNames joins operator names into the name of their left to right product.
func MultiplyOpNames(names []string) string {
	return strings.Join(names, " ")
}

func (s *Site) String() string {
	return fmt.Sprintf("site(d=%d, ops=[%s])", s.dim, strings.Join(s.Names(), " "))
}

// SpinHalf returns a spin-1/2 site with the operators
// Sx, Sy, Sz, Sp, Sm and the Pauli matrices Sigmax, Sigmay, Sigmaz.
// The basis is (up, down).
func SpinHalf() *Site {
	s := New(2)
	mustAddOp(s, "Sigmaz", [][]complex64{{1, 0}, {0, -1}}, false, "Sigmaz")
	mustAddOp(s, "Sigmax", [][]complex64{{0, 1}, {1, 0}}, false, "Sigmax")
	mustAddOp(s, "Sigmay", [][]complex64{{0, -1i}, {1i, 0}}, false, "Sigmay")
	mustAddOp(s, "Sz", [][]complex64{{0.5, 0}, {0, -0.5}}, false, "Sz")
	mustAddOp(s, "Sx", [][]complex64{{0, 0.5}, {0.5, 0}}, false, "Sx")
	mustAddOp(s, "Sy", [][]complex64{{0, -0.5i}, {0.5i, 0}}, false, "Sy")
	mustAddOp(s, "Sp", [][]complex64{{0, 1}, {0, 0}}, false, "Sm")
	mustAddOp(s, "Sm", [][]complex64{{0, 0}, {1, 0}}, false, "Sp")
	return s
}

// Spin returns a spin-S site for S = twoS/2 with the operators Sx, Sy, Sz, Sp, Sm.
// The basis is ordered by descending magnetization, so that Sz is
// diag(S, S-1, ..., -S).
func Spin(twoS int) *Site {
	if twoS < 1 {
		panic(fmt.Sprintf("twoS %d", twoS))
	}
	d := twoS + 1
	ss := float64(twoS) / 2
	sz := make([][]complex64, d)
	sp := make([][]complex64, d)
	sm := make([][]complex64, d)
	sx := make([][]complex64, d)
	sy := make([][]complex64, d)
	for i := 0; i < d; i++ {
		sz[i] = make([]complex64, d)
		sp[i] = make([]complex64, d)
		sm[i] = make([]complex64, d)
		sx[i] = make([]complex64, d)
		sy[i] = make([]complex64, d)
	}
	for i := 0; i < d; i++ {
		m := ss - float64(i)
		sz[i][i] = complex64(complex(m, 0))
		// Sp raises m by one, which decreases the basis index.
		if i > 0 {
			v := math.Sqrt(ss*(ss+1) - m*(m+1))
			sp[i-1][i] = complex64(complex(v, 0))
			sm[i][i-1] = complex64(complex(v, 0))
		}
	}
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			sx[i][j] = (sp[i][j] + sm[i][j]) / 2
			sy[i][j] = (sp[i][j] - sm[i][j]) / 2i
		}
	}
	s := New(d)
	mustAddOp(s, "Sz", sz, false, "Sz")
	mustAddOp(s, "Sp", sp, false, "Sm")
	mustAddOp(s, "Sm", sm, false, "Sp")
	mustAddOp(s, "Sx", sx, false, "Sx")
	mustAddOp(s, "Sy", sy, false, "Sy")
	return s
}

// Fermion returns a spinless fermion site with the operators
// C, Cd, N and the Jordan-Wigner string JW = (-1)^N.
// The basis is (empty, occupied).
func Fermion() *Site {
	s := New(2)
	mustAddOp(s, "JW", [][]complex64{{1, 0}, {0, -1}}, false, "JW")
	mustAddOp(s, "C", [][]complex64{{0, 1}, {0, 0}}, true, "Cd")
	mustAddOp(s, "Cd", [][]complex64{{0, 0}, {1, 0}}, true, "C")
	mustAddOp(s, "N", [][]complex64{{0, 0}, {0, 1}}, false, "N")
	mustAddOp(s, "dN", [][]complex64{{-0.5, 0}, {0, 0.5}}, false, "dN")
	return s
}

// Grouped returns the site obtained by taking the Kronecker product of the given sites.
// Its Jordan-Wigner operator is the product of the constituents' ones.
func Grouped(sites []*Site) *Site {
	if len(sites) == 0 {
		panic("no sites")
	}
	dim := 1
	for _, s := range sites {
		dim *= s.dim
	}
	g := New(dim)
	jw := sites[0].ops["JW"]
	for _, s := range sites[1:] {
		jw = kron(jw, s.ops["JW"])
	}
	g.ops["JW"] = jw
	return g
}

// GroupSites partitions sites into consecutive groups of at most n
// and returns the grouped sites.
func GroupSites(sites []*Site, n int) []*Site {
	if n < 1 {
		panic(fmt.Sprintf("n %d", n))
	}
	grouped := make([]*Site, 0, (len(sites)+n-1)/n)
	for i := 0; i < len(sites); i += n {
		end := min(i+n, len(sites))
		grouped = append(grouped, Grouped(sites[i:end]))
	}
	return grouped
}

func mustAddOp(s *Site, name string, op [][]complex64, needsJW bool, hcName string) {
	if err := s.AddOp(name, op, needsJW, hcName); err != nil {
		panic(err)
	}
}

func kron(a, b *tensor.Dense) *tensor.Dense {
	da, db := a.Shape()[0], b.Shape()[0]
	m := tensor.Zeros(da*db, da*db)
	for i := 0; i < da; i++ {
		for j := 0; j < da; j++ {
			for k := 0; k < db; k++ {
				for l := 0; l < db; l++ {
					m.SetAt([]int{i*db + k, j*db + l}, a.At(i, j)*b.At(k, l))
				}
			}
		}
	}
	return m
}
