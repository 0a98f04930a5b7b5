// Package store caches compiled matrix product operators in sqlite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fumin/tensor"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/fumin/qlattice/mpo"
	"github.com/fumin/qlattice/site"
)

const (
	tableMeta = "meta"
	tableBond = "bond"
	tableW    = "w"
)

type Store struct {
	Path string

	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	s := &Store{Path: dbPath}
	var err error
	s.db, err = sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := prepareDB(s.db); err != nil {
		s.db.Close()
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Has reports whether an MPO has been saved under name.
func (s *Store) Has(name string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT count(1) FROM %s WHERE name=?`, tableMeta)
	var n int
	if err := s.db.QueryRowContext(ctx, sqlStr, name).Scan(&n); err != nil {
		return false, errors.Wrap(err, "")
	}
	return n > 0, nil
}

// Save persists an MPO under name, replacing any previous version.
// Only the nonzero W entries are written.
func (s *Store) Save(name string, h *mpo.MPO) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := s.deleteName(ctx, name); err != nil {
		return errors.Wrap(err, "")
	}

	n := len(h.Sites)
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (name, bc, nsites, maxrange, plushc) VALUES (?, ?, ?, ?, ?)`, tableMeta)
	plusHC := 0
	if h.ExplicitPlusHC {
		plusHC = 1
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, name, h.BC, n, h.MaxRange, plusHC); err != nil {
		return errors.Wrap(err, "")
	}

	sqlStr = fmt.Sprintf(`INSERT OR REPLACE INTO %s (name, b, idl, idr) VALUES (?, ?, ?, ?)`, tableBond)
	for b := 0; b <= n; b++ {
		if _, err := s.db.ExecContext(ctx, sqlStr, name, b, h.IdL[b], h.IdR[b]); err != nil {
			return errors.Wrap(err, "")
		}
	}

	sqlStr = fmt.Sprintf(`INSERT OR REPLACE INTO %s (name, site, a, b, p, q, re, im) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, tableW)
	for i, w := range h.Ws {
		for ijk, v := range w.All() {
			if v == 0 {
				continue
			}
			args := []any{name, i, ijk[0], ijk[1], ijk[2], ijk[3], real(v), imag(v)}
			if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
			}
		}
	}
	return nil
}

// Load reads the MPO saved under name.
// The given sites supply the physical dimensions and must match the
// saved W tensors.
func (s *Store) Load(name string, sites []*site.Site) (*mpo.MPO, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sqlStr := fmt.Sprintf(`SELECT bc, nsites, maxrange, plushc FROM %s WHERE name=?`, tableMeta)
	var bc string
	var n, maxRange, plusHC int
	err := s.db.QueryRowContext(ctx, sqlStr, name).Scan(&bc, &n, &maxRange, &plusHC)
	switch {
	case err == sql.ErrNoRows:
		return nil, errors.Errorf("no MPO named %q", name)
	case err != nil:
		return nil, errors.Wrap(err, "")
	}
	if n != len(sites) {
		return nil, errors.Errorf("%d sites, saved %d", len(sites), n)
	}

	idl := make([]int, n+1)
	idr := make([]int, n+1)
	sqlStr = fmt.Sprintf(`SELECT b, idl, idr FROM %s WHERE name=?`, tableBond)
	rows, err := s.db.QueryContext(ctx, sqlStr, name)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()
	bonds := 0
	for rows.Next() {
		var b, l, r int
		if err := rows.Scan(&b, &l, &r); err != nil {
			return nil, errors.Wrap(err, "")
		}
		if b < 0 || b > n {
			return nil, errors.Errorf("bond %d, %d sites", b, n)
		}
		idl[b], idr[b] = l, r
		bonds++
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if bonds != n+1 {
		return nil, errors.Errorf("%d bonds, %d sites", bonds, n)
	}

	// The right virtual dimension of each W is the IdR channel plus one.
	ws := make([]*tensor.Dense, n)
	for i := 0; i < n; i++ {
		d := sites[i].Dim()
		ws[i] = tensor.Zeros(idr[i]+1, idr[i+1]+1, d, d)
	}
	sqlStr = fmt.Sprintf(`SELECT site, a, b, p, q, re, im FROM %s WHERE name=?`, tableW)
	wRows, err := s.db.QueryContext(ctx, sqlStr, name)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer wRows.Close()
	for wRows.Next() {
		var i, a, b, p, q int
		var re, im float32
		if err := wRows.Scan(&i, &a, &b, &p, &q, &re, &im); err != nil {
			return nil, errors.Wrap(err, "")
		}
		if i < 0 || i >= n {
			return nil, errors.Errorf("site %d, %d sites", i, n)
		}
		shape := ws[i].Shape()
		if a >= shape[0] || b >= shape[1] || p >= shape[2] || q >= shape[3] {
			return nil, errors.Errorf("site %d entry (%d %d %d %d), shape %v", i, a, b, p, q, shape)
		}
		ws[i].SetAt([]int{a, b, p, q}, complex(re, im))
	}
	if err := wRows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	return &mpo.MPO{
		Sites:          sites,
		Ws:             ws,
		BC:             bc,
		IdL:            idl,
		IdR:            idr,
		MaxRange:       maxRange,
		ExplicitPlusHC: plusHC != 0,
	}, nil
}

func (s *Store) deleteName(ctx context.Context, name string) error {
	for _, table := range []string{tableMeta, tableBond, tableW} {
		sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE name=?`, table)
		if _, err := s.db.ExecContext(ctx, sqlStr, name); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStrs := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (name TEXT, bc TEXT, nsites INTEGER, maxrange INTEGER, plushc INTEGER, PRIMARY KEY (name)) STRICT`, tableMeta),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (name TEXT, b INTEGER, idl INTEGER, idr INTEGER, PRIMARY KEY (name, b)) STRICT`, tableBond),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (name TEXT, site INTEGER, a INTEGER, b INTEGER, p INTEGER, q INTEGER, re REAL, im REAL, PRIMARY KEY (name, site, a, b, p, q)) STRICT`, tableW),
	}
	for _, sqlStr := range sqlStrs {
		if _, err := db.ExecContext(ctx, sqlStr); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}
