package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/bodiless/contentsync/internal/content"
)

const (
	contentTableName      = "bodiless_content"
	sqlOperationTimeout   = 5 * time.Second
	postgresDriverName    = "postgres"
	sqliteDriverName      = "sqlite"
	sqliteDefaultFileName = "bodiless-content.db"
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// sqlDialect covers the differences between the supported SQL engines.
type sqlDialect struct {
	driver      string
	placeholder func(n int) string
	now         string
	createTable string
}

var postgresDialect = sqlDialect{
	driver:      postgresDriverName,
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	now:         "NOW()",
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			path TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
}

var sqliteDialect = sqlDialect{
	driver:      sqliteDriverName,
	placeholder: func(int) string { return "?" },
	now:         "CURRENT_TIMESTAMP",
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			path TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
}

// SQLContentStore keeps items in one table keyed by resource path.
type SQLContentStore struct {
	dsn       string
	tableName string
	dialect   sqlDialect
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresContentStore(dsn string) (*SQLContentStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &SQLContentStore{
		dsn:       dsn,
		tableName: contentTableName,
		dialect:   postgresDialect,
		openDB:    sql.Open,
	}, nil
}

// NewSQLiteContentStore opens a database file; ":memory:" keeps it in RAM.
func NewSQLiteContentStore(path string) (*SQLContentStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &SQLContentStore{
		dsn:       path,
		tableName: contentTableName,
		dialect:   sqliteDialect,
		openDB:    sql.Open,
	}, nil
}

func (s *SQLContentStore) Save(ctx context.Context, resourcePath string, data content.Data) error {
	key, err := CleanResourcePath(resourcePath)
	if err != nil {
		return err
	}
	raw, err := encodeData(data)
	if err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (path, data, updated_at)
		VALUES (%s, %s, %s)
		ON CONFLICT (path)
		DO UPDATE SET data = excluded.data, updated_at = %s`,
		quoteIdentifier(s.tableName), s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.now, s.dialect.now)
	_, err = s.db.ExecContext(ctx, query, key, string(raw))
	return err
}

func (s *SQLContentStore) Load(ctx context.Context, resourcePath string) (content.Data, error) {
	key, err := CleanResourcePath(resourcePath)
	if err != nil {
		return nil, err
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT data FROM %s WHERE path = %s", quoteIdentifier(s.tableName), s.dialect.placeholder(1))
	var payload string
	err = s.db.QueryRowContext(ctx, query, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeData([]byte(payload))
}

func (s *SQLContentStore) Delete(ctx context.Context, resourcePath string) error {
	key, err := CleanResourcePath(resourcePath)
	if err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE path = %s", quoteIdentifier(s.tableName), s.dialect.placeholder(1))
	result, err := s.db.ExecContext(ctx, query, key)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLContentStore) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = cleanPrefix(prefix)
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT path FROM %s WHERE path LIKE %s ESCAPE '\'`, quoteIdentifier(s.tableName), s.dialect.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *SQLContentStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLContentStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driver, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		if s.dialect.driver == sqliteDriverName {
			// one writer at a time; also keeps ":memory:" on a single connection
			db.SetMaxOpenConns(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()

		if _, err := db.ExecContext(ctx, fmt.Sprintf(s.dialect.createTable, quoteIdentifier(s.tableName))); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
