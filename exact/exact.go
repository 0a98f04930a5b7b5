// Package exact builds full Hamiltonian matrices from the term
// collections of a model, for exact diagonalization of small chains.
package exact

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/qlattice/lattice"
	"github.com/fumin/qlattice/model"
	"github.com/fumin/qlattice/terms"
)

var (
	PauliX = [][]complex64{
		{0, 1},
		{1, 0},
	}
	PauliY = [][]complex64{
		{0, -1i},
		{1i, 0},
	}
	PauliZ = [][]complex64{
		{1, 0},
		{0, -1},
	}
)

type vRowCol struct {
	v   complex64
	row int
	col int
}

// A COO is a sparse matrix in coordinate format with row major entries.
type COO struct {
	rows int
	cols int
	Data []vRowCol

	m map[[2]int]complex64
}

func M(dense [][]complex64) *COO {
	m := &COO{rows: len(dense), cols: len(dense[0]), Data: make([]vRowCol, 0), m: make(map[[2]int]complex64)}
	for i, row := range dense {
		for j, v := range row {
			if v == 0 {
				continue
			}
			m.Data = append(m.Data, vRowCol{v: v, row: i, col: j})
		}
	}
	return m
}

func COOZeros(rows, cols int) *COO {
	m := M([][]complex64{{0}})
	m.Zeros(rows, cols)
	return m
}

func COOIdentity(rows int) *COO {
	m := M([][]complex64{{0}})
	m.Zeros(rows, rows)
	for i := 0; i < rows; i++ {
		m.Data = append(m.Data, vRowCol{v: 1, row: i, col: i})
	}
	return m
}

func (m *COO) Rows() int { return m.rows }
func (m *COO) Cols() int { return m.cols }

func (m *COO) Zeros(rows, cols int) {
	m.rows, m.cols = rows, cols
	m.Data = m.Data[:0]
}

func (m *COO) Scalar(v complex64) {
	m.rows, m.cols = 1, 1
	m.Data = m.Data[:0]
	m.Data = append(m.Data, vRowCol{v: v, row: 0, col: 0})
}

func (a *COO) Equal(b *COO) bool {
	if a.rows != b.rows {
		return false
	}
	if a.cols != b.cols {
		return false
	}
	if len(a.Data) != len(b.Data) {
		return false
	}
	for i, av := range a.Data {
		bv := b.Data[i]
		if av != bv {
			return false
		}
	}
	return true
}

func (m *COO) Slice(yBoundN, xBoundN [2]int) *COO {
	yBound, xBound := yBoundN, xBoundN
	for i := 0; i < 2; i++ {
		if yBound[i] < 0 {
			yBound[i] += m.rows
		}
		if xBound[i] < 0 {
			xBound[i] += m.cols
		}
	}

	s := &COO{rows: yBound[1] - yBound[0], cols: xBound[1] - xBound[0], Data: make([]vRowCol, 0)}
	for _, v := range m.Data {
		if v.row < yBound[0] {
			continue
		}
		if v.row >= yBound[1] {
			break
		}
		if v.col < xBound[0] || v.col >= xBound[1] {
			continue
		}
		s.Data = append(s.Data, vRowCol{v: v.v, row: v.row - yBound[0], col: v.col - xBound[0]})
	}
	return s
}

func (a *COO) Add(c complex64, b *COO) {
	clear(b.m)
	for _, v := range b.Data {
		b.m[[2]int{v.row, v.col}] = v.v
	}

	for i, av := range a.Data {
		var byx [2]int
		switch {
		case b.rows == 1 && b.cols == 1:
		case b.rows == a.rows && b.cols == 1:
			byx[0] = av.row
		case b.rows == a.rows && b.cols == a.cols:
			byx[0], byx[1] = av.row, av.col
		default:
			panic(fmt.Sprintf("wrong dimensions"))
		}
		bv := b.m[byx]
		delete(b.m, byx)

		a.Data[i].v = av.v + c*bv
	}

	a.Data = slices.DeleteFunc(a.Data, func(v vRowCol) bool {
		return v.v == 0
	})
	for yx, bv := range b.m {
		a.Data = append(a.Data, vRowCol{v: c * bv, row: yx[0], col: yx[1]})
	}
	slices.SortFunc(a.Data, rowMajor)
	clear(b.m)
}

func (a *COO) Kron(b *COO) {
	rows := a.rows * b.rows
	cols := a.cols * b.cols
	a.rows, a.cols = rows, cols

	prevElemNum := len(a.Data)
	for i := prevElemNum - 1; i >= 0; i-- {
		av := a.Data[i]
		a.Data[i].v = 0
		for _, bv := range b.Data {
			ky := av.row*b.rows + bv.row
			kx := av.col*b.cols + bv.col
			a.Data = append(a.Data, vRowCol{v: av.v * bv.v, row: ky, col: kx})
		}
	}

	a.Data = slices.DeleteFunc(a.Data, func(v vRowCol) bool {
		return v.v == 0
	})
	slices.SortFunc(a.Data, rowMajor)
}

// ConjTranspose returns the hermitian conjugate.
func (m *COO) ConjTranspose() *COO {
	t := &COO{rows: m.cols, cols: m.rows, Data: make([]vRowCol, 0, len(m.Data)), m: make(map[[2]int]complex64)}
	for _, v := range m.Data {
		t.Data = append(t.Data, vRowCol{v: complex(real(v.v), -imag(v.v)), row: v.col, col: v.row})
	}
	slices.SortFunc(t.Data, rowMajor)
	return t
}

func (m *COO) Dense() [][]complex64 {
	dense := make([][]complex64, m.rows)
	for i := range dense {
		dense[i] = make([]complex64, m.cols)
	}

	for _, v := range m.Data {
		dense[v.row][v.col] = v.v
	}

	return dense
}

func (m *COO) String() string {
	clear(m.m)
	for _, v := range m.Data {
		m.m[[2]int{v.row, v.col}] = v.v
	}

	lines := []string{}
	for i := 0; i < m.rows; i++ {
		cs := []string{}
		for j := 0; j < m.cols; j++ {
			v := m.m[[2]int{i, j}]
			switch {
			case imag(v) == 0:
				cs = append(cs, format(real(v)))
			case real(v) == 0:
				cs = append(cs, format(imag(v))+"i")
			default:
				cs = append(cs, format(real(v))+"+"+format(imag(v))+"i")
			}
		}
		l := strings.Join(cs, "\t")
		lines = append(lines, l)
	}

	clear(m.m)
	return strings.Join(lines, "\n")
}

type ValVec struct {
	Val complex128
	Vec []complex128
}

// Eigen diagonalizes a real matrix, returning eigenpairs sorted by the
// real part of the eigenvalue.
func (m *COO) Eigen() []ValVec {
	gnm := mat.NewDense(m.rows, m.cols, nil)
	gnm.Zero()
	for _, v := range m.Data {
		if imag(v.v) != 0 {
			panic("not real")
		}
		gnm.Set(v.row, v.col, float64(real(v.v)))
	}

	var eig mat.Eigen
	ok := eig.Factorize(gnm, mat.EigenRight)
	if !ok {
		panic("eig.Factorize failed")
	}
	vals := eig.Values(nil)
	vecs := mat.NewCDense(m.rows, m.cols, nil)
	eig.VectorsTo(vecs)

	vecsR, _ := vecs.Caps()
	vvs := make([]ValVec, 0, len(vals))
	for i, v := range vals {
		vec := make([]complex128, 0, vecsR)
		for j := 0; j < vecsR; j++ {
			vec = append(vec, vecs.At(j, i))
		}
		vvs = append(vvs, ValVec{Val: v, Vec: vec})
	}
	slices.SortFunc(vvs, func(a, b ValVec) int { return cmp.Compare(real(a.Val), real(b.Val)) })

	return vvs
}

// Dense builds the full Hamiltonian matrix of a finite model from its
// accumulated terms, with the many body basis ordered site 0 outermost.
// Jordan-Wigner and other segment strings are embedded on the sites in
// between, and for explicit plus hc models the conjugate is added.
func Dense(m *model.Model) (*COO, error) {
	lat := m.Lattice()
	if lat.BCMPS() != lattice.Finite {
		return nil, errors.Errorf("cannot build the dense matrix of an %s chain", lat.BCMPS())
	}
	sites := lat.MPSSites()
	total := 1
	for _, s := range sites {
		total *= s.Dim()
	}

	h := COOZeros(total, total)
	buf := M([][]complex64{{0}})
	embed := func(t terms.Term) error {
		names := make([]string, len(sites))
		for i := range names {
			names[i] = "Id"
		}
		for k, si := range t.Sites {
			names[si] = t.Ops[k]
		}
		for k := 0; k+1 < len(t.Sites); k++ {
			for x := t.Sites[k] + 1; x < t.Sites[k+1]; x++ {
				names[x] = t.Strings[k]
			}
		}

		buf.Scalar(t.Strength)
		for i, s := range sites {
			op, err := s.Op(names[i])
			if err != nil {
				return errors.Wrap(err, "")
			}
			buf.Kron(fromTensor(op))
		}
		h.Add(1, buf)
		return nil
	}

	for _, t := range m.AllOnsiteTerms().All() {
		if err := embed(t); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	for _, t := range m.AllCouplingTerms().All() {
		if err := embed(t); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}

	if m.ExplicitPlusHC() {
		h.Add(1, h.ConjTranspose())
	}
	return h, nil
}

func fromTensor(t *tensor.Dense) *COO {
	shape := t.Shape()
	m := COOZeros(shape[0], shape[1])
	for i := 0; i < shape[0]; i++ {
		for j := 0; j < shape[1]; j++ {
			if v := t.At(i, j); v != 0 {
				m.Data = append(m.Data, vRowCol{v: v, row: i, col: j})
			}
		}
	}
	return m
}

func rowMajor(a, b vRowCol) int {
	if c := cmp.Compare(a.row, b.row); c != 0 {
		return c
	}
	return cmp.Compare(a.col, b.col)
}

func format(v float32) string {
	// If v is 0 or -0, return "0" immediately to avoid returning "-0".
	if v == 0 {
		return " 0"
	}

	s := fmt.Sprintf("%v", v)

	// Add a space before non-negative numbers to align with other negative numbers in the same column.
	if v >= 0 {
		s = " " + s
	}

	return s
}
