// Command run sweeps transverse field Ising chains over system size
// and field strength, compiles each Hamiltonian, caches the MPOs in
// sqlite, diagonalizes exactly, and prints a CSV summary.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/fumin/qlattice"
	"github.com/fumin/qlattice/exact"
	"github.com/fumin/qlattice/mpo"
	"github.com/fumin/qlattice/params"
	"github.com/fumin/qlattice/store"
)

const (
	fnameDone       = "done.txt"
	fnameStatistics = "statistics.txt"
	fnameMPO        = "mpo.db"
)

var (
	runDir = flag.String("d", filepath.Join("runs", "qlattice"), "run directory")
)

type Statistics struct {
	l int
	h float64

	EigenValue []float64
	BondDim    int
}

func solve(s *store.Store, dir string, l int, h float64) error {
	donePath := filepath.Join(dir, fnameDone)
	if _, err := os.Stat(donePath); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	p := params.New("tfi", map[string]any{"L": l, "h": h})
	m, err := qlattice.TFIChain(p)
	if err != nil {
		return errors.Wrap(err, "")
	}
	name := fmt.Sprintf("tfi-%d-%f", l, h)
	if err := s.Save(name, m.HMPO); err != nil {
		return errors.Wrap(err, "")
	}

	hamiltonian, err := exact.Dense(m)
	if err != nil {
		return errors.Wrap(err, "")
	}
	vvs := hamiltonian.Eigen()

	stats := Statistics{BondDim: bondDim(m.HMPO)}
	for _, vv := range vvs[:min(3, len(vvs))] {
		stats.EigenValue = append(stats.EigenValue, real(vv.Val))
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.WriteFile(filepath.Join(dir, fnameStatistics), b, 0644); err != nil {
		return errors.Wrap(err, "")
	}

	if err := os.WriteFile(donePath, nil, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func bondDim(h *mpo.MPO) int {
	chi := 0
	for _, w := range h.Ws {
		chi = max(chi, w.Shape()[mpo.RightAxis])
	}
	return chi
}

func gather(dir string) ([]Statistics, error) {
	stats := make([]Statistics, 0)
	lEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	for _, lent := range lEntries {
		if !lent.IsDir() {
			continue
		}
		l, err := strconv.Atoi(lent.Name())
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", lent))
		}

		ldir := filepath.Join(dir, lent.Name())
		hEntries, err := os.ReadDir(ldir)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", lent))
		}
		for _, hent := range hEntries {
			h, err := strconv.ParseFloat(hent.Name(), 64)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%#v %#v", lent, hent))
			}

			hdir := filepath.Join(ldir, hent.Name())
			sb, err := os.ReadFile(filepath.Join(hdir, fnameStatistics))
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%#v %#v", lent, hent))
			}
			s := Statistics{l: l, h: h}
			if err := json.Unmarshal(sb, &s); err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%#v %#v", lent, hent))
			}
			stats = append(stats, s)
		}
	}
	return stats, nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}
	s, err := store.Open(filepath.Join(*runDir, fnameMPO))
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer s.Close()

	// Maximum chain length.
	const maxL = 10
	// Field strengths around the critical point h=1.
	hLogs := []float64{-2, -1.5, -1, 1, 1.5, 2}
	for _, hl := range []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5} {
		hLogs = append(hLogs, hl, -hl)
	}

	type config struct {
		l int
		h float64
	}
	configs := make([]config, 0)
	for l := 2; l <= maxL; l++ {
		for _, hl := range hLogs {
			configs = append(configs, config{l: l, h: math.Pow(10, hl)})
		}
	}

	for _, c := range configs {
		dir := filepath.Join(*runDir, strconv.Itoa(c.l), fmt.Sprintf("%f", c.h))
		if err := solve(s, dir, c.l, c.h); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d %f", c.l, c.h))
		}
		log.Printf("%d %f", c.l, c.h)
	}

	stats, err := gather(*runDir)
	if err != nil {
		return errors.Wrap(err, "")
	}
	fmt.Printf("l,h,e0,e1,e2,chi\n")
	for _, s := range stats {
		es := make([]string, 0, 3)
		for _, e := range s.EigenValue {
			es = append(es, fmt.Sprintf("%f", e))
		}
		fmt.Printf("%d,%f,%s,%d\n", s.l, s.h, strings.Join(es, ","), s.BondDim)
	}
	return nil
}
