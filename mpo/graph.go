package mpo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/fumin/qlattice/lattice"
	"github.com/fumin/qlattice/site"
	"github.com/fumin/qlattice/terms"
)

// Identity channel labels on the virtual bonds of a graph.
// IdL marks terms not yet started, IdR terms already finished.
const (
	idl = "IdL"
	idr = "IdR"
)

type edgeKey struct {
	from, to, op string
}

// Graph accumulates Hamiltonian terms as walks through virtual channel
// states and compiles them into a matrix product operator.
//
// Terms sharing a prefix of operators share the channels of that
// prefix, so the resulting virtual bonds grow with the number of
// distinct prefixes rather than the number of terms.
type Graph struct {
	sites []*site.Site
	bc    string
	// states[b] is the set of channel labels on bond b.
	// Finite chains have len(sites)+1 bonds, infinite ones wrap bond L onto bond 0.
	states []map[string]struct{}
	// edges[i] maps (from, to, operator) on site i to its accumulated strength.
	edges []map[edgeKey]complex64
}

// NewGraph returns an empty graph over the given sites,
// with the identity channels already running through every bond.
func NewGraph(sites []*site.Site, bc string) (*Graph, error) {
	if len(sites) == 0 {
		return nil, errors.Errorf("no sites")
	}
	switch bc {
	case lattice.Finite, lattice.Infinite:
	default:
		return nil, errors.Errorf("unknown boundary conditions %q", bc)
	}
	nBonds := len(sites) + 1
	if bc == lattice.Infinite {
		nBonds = len(sites)
	}
	g := &Graph{sites: sites, bc: bc}
	g.states = make([]map[string]struct{}, nBonds)
	for b := range g.states {
		g.states[b] = map[string]struct{}{idl: {}, idr: {}}
	}
	g.edges = make([]map[edgeKey]complex64, len(sites))
	for i := range g.edges {
		g.edges[i] = map[edgeKey]complex64{}
		g.addEdge(i, idl, idl, "Id", 1)
		g.addEdge(i, idr, idr, "Id", 1)
	}
	return g, nil
}

// AddTerm inserts a term as a walk from IdL through per prefix
// channels to IdR, with the term's strength applied at the last operator.
func (g *Graph) AddTerm(t terms.Term) error {
	n := len(g.sites)
	if len(t.Ops) == 0 || len(t.Ops) != len(t.Sites) || len(t.Strings) != len(t.Ops)-1 {
		return errors.Errorf("%d sites, %d operators, %d strings", len(t.Sites), len(t.Ops), len(t.Strings))
	}
	if t.Sites[0] < 0 || t.Sites[0] >= n {
		return errors.Errorf("leftmost site %d out of chain of %d sites", t.Sites[0], n)
	}
	last := t.Sites[len(t.Sites)-1]
	if g.bc == lattice.Finite && last >= n {
		return errors.Errorf("site %d out of finite chain of %d sites", last, n)
	}
	for m, p := range t.Sites {
		if m > 0 && p <= t.Sites[m-1] {
			return errors.Errorf("sites %v not strictly ascending", t.Sites)
		}
		if !g.sites[p%n].ValidOp(t.Ops[m]) {
			return errors.Errorf("invalid operator %q on site %d", t.Ops[m], p%n)
		}
	}

	from := idl
	for m, p := range t.Sites {
		if m == len(t.Ops)-1 {
			// Only the completing edge carries the strength and accumulates.
			g.addEdge(p, from, idr, t.Ops[m], t.Strength)
			break
		}
		to := chanKey(t, m)
		g.addEdgeOnce(p, from, to, t.Ops[m])
		// The string operator loops on the in-flight channel until the
		// next operator site.
		for q := p + 1; q < t.Sites[m+1]; q++ {
			if !g.sites[q%n].ValidOp(t.Strings[m]) {
				return errors.Errorf("invalid string operator %q on site %d", t.Strings[m], q%n)
			}
			g.addEdgeOnce(q, to, to, t.Strings[m])
		}
		from = to
	}
	return nil
}

// chanKey labels the channel carrying the prefix of t up to and
// including operator m and the string operator following it.
// Terms with equal prefixes share channels.
func chanKey(t terms.Term, m int) string {
	var b strings.Builder
	for k := 0; k <= m; k++ {
		fmt.Fprintf(&b, "%d:%s|", t.Sites[k], t.Ops[k])
	}
	b.WriteString(t.Strings[m])
	return b.String()
}

func (g *Graph) addEdge(p int, from, to, op string, strength complex64) {
	i := p % len(g.sites)
	g.edges[i][edgeKey{from: from, to: to, op: op}] += strength
	g.stateSet(p)[from] = struct{}{}
	g.stateSet(p + 1)[to] = struct{}{}
}

// addEdgeOnce inserts a structural edge of strength one, skipping it
// when already present. Terms sharing a prefix reuse the same start
// and string edges.
func (g *Graph) addEdgeOnce(p int, from, to, op string) {
	i := p % len(g.sites)
	key := edgeKey{from: from, to: to, op: op}
	if _, ok := g.edges[i][key]; !ok {
		g.edges[i][key] = 1
	}
	g.stateSet(p)[from] = struct{}{}
	g.stateSet(p + 1)[to] = struct{}{}
}

func (g *Graph) stateSet(b int) map[string]struct{} {
	if g.bc == lattice.Infinite {
		return g.states[b%len(g.sites)]
	}
	return g.states[b]
}

// Build compiles the accumulated edges into an MPO.
// On every bond IdL gets virtual index 0 and IdR the last one.
func (g *Graph) Build() (*MPO, error) {
	n := len(g.sites)
	index := make([]map[string]int, len(g.states))
	chi := make([]int, len(g.states))
	for b, set := range g.states {
		labels := make([]string, 0, len(set))
		for label := range set {
			if label == idl || label == idr {
				continue
			}
			labels = append(labels, label)
		}
		sort.Strings(labels)
		index[b] = map[string]int{idl: 0}
		for k, label := range labels {
			index[b][label] = k + 1
		}
		index[b][idr] = len(labels) + 1
		chi[b] = len(labels) + 2
	}

	h := &MPO{Sites: g.sites, BC: g.bc}
	h.Ws = make([]*tensor.Dense, n)
	for i, edges := range g.edges {
		bi := index[g.bondAt(i)]
		bj := index[g.bondAt(i+1)]
		d := g.sites[i].Dim()
		w := tensor.Zeros(chi[g.bondAt(i)], chi[g.bondAt(i+1)], d, d)
		for ek, strength := range edges {
			a, ok := bi[ek.from]
			b, ok2 := bj[ek.to]
			if !ok || !ok2 {
				panic(fmt.Sprintf("unregistered channel %#v on site %d", ek, i))
			}
			m, err := g.sites[i].Op(ek.op)
			if err != nil {
				return nil, errors.Wrap(err, "")
			}
			for p := 0; p < d; p++ {
				for q := 0; q < d; q++ {
					w.SetAt([]int{a, b, p, q}, w.At(a, b, p, q)+strength*m.At(p, q))
				}
			}
		}
		h.Ws[i] = w
	}

	h.IdL = make([]int, n+1)
	h.IdR = make([]int, n+1)
	for b := 0; b <= n; b++ {
		h.IdR[b] = chi[g.bondAt(b)] - 1
	}
	return h, nil
}

func (g *Graph) bondAt(b int) int {
	if g.bc == lattice.Infinite {
		return b % len(g.sites)
	}
	return b
}
