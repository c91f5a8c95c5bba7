// Package sqlstore is a protomodel.Store on SQLite. Each model gets a table
// with one column per stored field; many-to-many and container relations get
// a link table with an explicit position column.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zero-day-ai/protomodel"
)

// Querier is the subset of *sql.DB and *sql.Tx the store uses.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// ContextWithTx returns a context whose store operations run in tx.
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Store implements protomodel.Store on a database/sql handle.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New wraps an open database.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a new SQLite database connection.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	return db, nil
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) q(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return s.db
}

// Transact runs fn in a transaction carried by its context. The transaction
// commits when fn returns nil and rolls back otherwise.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ContextWithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Migrate creates the tables of the given models if they do not exist.
func (s *Store) Migrate(ctx context.Context, models ...*protomodel.Model) error {
	for _, m := range models {
		for _, stmt := range schema(m) {
			if _, err := s.q(ctx).ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate %s: %w", m.Name(), err)
			}
		}
		s.logger.Debug("table ready", "model", m.Name())
	}
	return nil
}

// Save inserts or updates the instance.
func (s *Store) Save(ctx context.Context, inst *protomodel.Instance) error {
	rec, err := inst.Record()
	if err != nil {
		return err
	}
	m := inst.Model()
	cols := recordColumns(rec)
	args := make([]any, 0, len(cols)+1)

	id, saved := inst.ID()
	if !saved {
		var query string
		if len(cols) == 0 {
			query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quote(m.Name()))
		} else {
			query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				quote(m.Name()), quoteAll(cols), placeholders(len(cols)))
			for _, c := range cols {
				args = append(args, rec[c])
			}
		}
		res, err := s.q(ctx).ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("insert %s: %w", m.Name(), err)
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert %s: %w", m.Name(), err)
		}
		inst.SetID(newID)
		return nil
	}

	args = append(args, id)
	for _, c := range cols {
		args = append(args, rec[c])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(m.Name()), quoteAll(append([]string{"id"}, cols...)), placeholders(len(cols)+1))
	if len(cols) == 0 {
		query += " ON CONFLICT(id) DO NOTHING"
	} else {
		sets := make([]string, len(cols))
		for n, c := range cols {
			sets[n] = fmt.Sprintf("%s = excluded.%s", quote(c), quote(c))
		}
		query += " ON CONFLICT(id) DO UPDATE SET " + strings.Join(sets, ", ")
	}
	if _, err := s.q(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s %d: %w", m.Name(), id, err)
	}
	return nil
}

// Get loads an instance and the instances its foreign keys point at.
func (s *Store) Get(ctx context.Context, m *protomodel.Model, id int64) (*protomodel.Instance, error) {
	return protomodel.NewLoader(s.fetch).Load(ctx, m, id)
}

func (s *Store) fetch(ctx context.Context, m *protomodel.Model, id int64) (protomodel.Record, error) {
	var cols []string
	for _, f := range m.Columns() {
		if f.Type == protomodel.TypeAutoID {
			continue
		}
		cols = append(cols, f.Column())
	}
	selectList := "id"
	if len(cols) > 0 {
		selectList = quoteAll(cols)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", selectList, quote(m.Name()))

	values := make([]any, max(len(cols), 1))
	ptrs := make([]any, len(values))
	for n := range values {
		ptrs[n] = &values[n]
	}
	err := s.q(ctx).QueryRowContext(ctx, query, id).Scan(ptrs...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &protomodel.RelationNotFoundError{Model: m.Name(), ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("select %s %d: %w", m.Name(), id, err)
	}

	rec := make(protomodel.Record, len(cols))
	for n, c := range cols {
		rec[c] = values[n]
	}
	return rec, nil
}

// Delete removes the instance and the link rows it owns.
func (s *Store) Delete(ctx context.Context, inst *protomodel.Instance) error {
	id, saved := inst.ID()
	if !saved {
		return nil
	}
	m := inst.Model()
	if _, err := s.q(ctx).ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", quote(m.Name())), id); err != nil {
		return fmt.Errorf("delete %s %d: %w", m.Name(), id, err)
	}
	for _, f := range linkFields(m) {
		query := fmt.Sprintf("DELETE FROM %s WHERE owner_id = ?", quote(linkTable(m, f)))
		if _, err := s.q(ctx).ExecContext(ctx, query, id); err != nil {
			return fmt.Errorf("delete links of %s %d: %w", m.Name(), id, err)
		}
	}
	return nil
}

// Relation returns the manager of a to-many relation.
func (s *Store) Relation(inst *protomodel.Instance, field *protomodel.Field) protomodel.RelationManager {
	return protomodel.NewRelationManager(s, s, inst, field)
}

// AddLinks appends ids to the owner's link rows, skipping existing links.
func (s *Store) AddLinks(ctx context.Context, owner *protomodel.Instance, field *protomodel.Field, ids []int64) error {
	ownerID, _ := owner.ID()
	table := quote(linkTable(owner.Model(), field))
	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (owner_id, member_id, position)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM %s WHERE owner_id = ?))`, table, table)
	for _, id := range ids {
		if _, err := s.q(ctx).ExecContext(ctx, query, ownerID, id, ownerID); err != nil {
			return fmt.Errorf("link %s.%s: %w", owner.Model().Name(), field.Name, err)
		}
	}
	return nil
}

// LinkedIDs returns the IDs linked from owner in insertion order.
func (s *Store) LinkedIDs(ctx context.Context, owner *protomodel.Instance, field *protomodel.Field) ([]int64, error) {
	ownerID, _ := owner.ID()
	query := fmt.Sprintf("SELECT member_id FROM %s WHERE owner_id = ? ORDER BY position",
		quote(linkTable(owner.Model(), field)))
	return s.queryIDs(ctx, query, ownerID)
}

// ReferencingIDs returns the IDs of instances of m whose column holds id.
func (s *Store) ReferencingIDs(ctx context.Context, m *protomodel.Model, column string, id int64) ([]int64, error) {
	query := fmt.Sprintf("SELECT id FROM %s WHERE %s = ? ORDER BY id", quote(m.Name()), quote(column))
	return s.queryIDs(ctx, query, id)
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer protomodel.CloseWithLog(rows, s.logger, "rows")

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	return ids, nil
}

func recordColumns(rec protomodel.Record) []string {
	cols := make([]string, 0, len(rec))
	for c := range rec {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(names []string) string {
	out := make([]string, len(names))
	for n, name := range names {
		out[n] = quote(name)
	}
	return strings.Join(out, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
