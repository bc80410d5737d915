package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/vanderheijden86/treegrid/pkg/hierarchy"
)

// Schema is the adjacency table read by SQLite.
const Schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id        INTEGER PRIMARY KEY,
	parent_id INTEGER REFERENCES nodes(id) ON DELETE CASCADE,
	name      TEXT NOT NULL,
	detail    TEXT NOT NULL DEFAULT '',
	position  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id, position, id);
`

const childQuery = `
	SELECT n.id, n.name, n.detail,
	       (SELECT COUNT(*) FROM nodes c WHERE c.parent_id = n.id)
	FROM nodes n
	WHERE n.parent_id IS ?
	ORDER BY n.position, n.id
	LIMIT ? OFFSET ?`

// ErrNoSchema is returned when a database has no nodes table.
var ErrNoSchema = errors.New("database has no nodes table")

type nodeRow struct {
	name     string
	detail   string
	children int
}

// SQLite reads a tree stored as an adjacency list. IDs are the decimal row
// ids.
type SQLite struct {
	db    *sql.DB
	path  string
	nodes *lru.Cache[string, nodeRow]
}

// OpenSQLite opens path read-only.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	var name string
	err = db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'nodes'`).Scan(&name)
	if err != nil {
		db.Close()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", path, ErrNoSchema)
		}
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	nodes, err := lru.New[string, nodeRow](infoCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db, path: path, nodes: nodes}, nil
}

func (s *SQLite) FetchChildren(ctx context.Context, q hierarchy.Query[string]) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	parent, err := s.parentArg(q)
	if err != nil {
		return nil, err
	}
	limit := int64(-1)
	if q.Limit > 0 {
		limit = int64(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, childQuery, parent, limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("querying children: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id int64
		var row nodeRow
		if err := rows.Scan(&id, &row.name, &row.detail, &row.children); err != nil {
			return nil, err
		}
		key := strconv.FormatInt(id, 10)
		s.nodes.Add(key, row)
		ids = append(ids, key)
	}
	return ids, rows.Err()
}

func (s *SQLite) CountChildren(ctx context.Context, q hierarchy.Query[string]) (int, error) {
	parent, err := s.parentArg(q)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE parent_id IS ?`, parent).Scan(&n)
	return n, err
}

func (s *SQLite) parentArg(q hierarchy.Query[string]) (any, error) {
	if q.Root {
		return nil, nil
	}
	id, err := strconv.ParseInt(q.Parent, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid node id %q", q.Parent)
	}
	return id, nil
}

func (s *SQLite) row(id string) (nodeRow, bool) {
	if row, ok := s.nodes.Get(id); ok {
		return row, true
	}
	var row nodeRow
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return row, false
	}
	err = s.db.QueryRow(`
		SELECT name, detail, (SELECT COUNT(*) FROM nodes c WHERE c.parent_id = n.id)
		FROM nodes n WHERE n.id = ?`, n).Scan(&row.name, &row.detail, &row.children)
	if err != nil {
		return row, false
	}
	s.nodes.Add(id, row)
	return row, true
}

// Forget drops cached rows so labels are re-read after the file changes.
func (s *SQLite) Forget() {
	s.nodes.Purge()
}

func (s *SQLite) IsExpandable(id string) bool {
	row, ok := s.row(id)
	return ok && row.children > 0
}

func (s *SQLite) Headers() (string, string) { return "Name", "Detail" }

func (s *SQLite) Label(id string) string {
	if row, ok := s.row(id); ok {
		return row.name
	}
	return "#" + id
}

func (s *SQLite) Detail(id string) string {
	row, _ := s.row(id)
	return row.detail
}

// Path returns the database file.
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Writer creates and fills a nodes database.
type Writer struct {
	db *sql.DB
}

// CreateSQLite opens (creating if needed) a writable database at path and
// ensures the schema exists.
func CreateSQLite(ctx context.Context, path string) (*Writer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cannot create database: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Writer{db: db}, nil
}

// Insert adds a node and returns its id. A parent of 0 makes a top-level
// node.
func (w *Writer) Insert(ctx context.Context, parent int64, name, detail string, position int) (int64, error) {
	var parentArg any
	if parent != 0 {
		parentArg = parent
	}
	res, err := w.db.ExecContext(ctx,
		`INSERT INTO nodes (parent_id, name, detail, position) VALUES (?, ?, ?, ?)`,
		parentArg, name, detail, position)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Import copies the tree of src into the database, depth first, and returns
// the number of nodes written. Everything runs in one transaction.
func (w *Writer) Import(ctx context.Context, src Source) (int, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO nodes (parent_id, name, detail, position) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	count := 0
	var walk func(q hierarchy.Query[string], parent any) error
	walk = func(q hierarchy.Query[string], parent any) error {
		ids, err := hierarchy.FetchAll(ctx, src, q, 0)
		if err != nil {
			return err
		}
		for pos, id := range ids {
			res, err := stmt.ExecContext(ctx, parent, src.Label(id), src.Detail(id), pos)
			if err != nil {
				return fmt.Errorf("inserting %s: %w", id, err)
			}
			count++
			if !src.IsExpandable(id) {
				continue
			}
			rowID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if err := walk(hierarchy.ChildQuery(id), rowID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(hierarchy.RootQuery[string](), nil); err != nil {
		return count, err
	}
	return count, tx.Commit()
}

func (w *Writer) Close() error {
	return w.db.Close()
}
