// Package sqlstore persists pending requests in a relational table.
// PostgreSQL (through pgx) and Oracle (through go-ora) are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/gaborage/alioli/headers"
	"github.com/gaborage/alioli/logger"
	"github.com/gaborage/alioli/queue"
)

var columns = []string{"method", "url", "body_content", "body_content_type", "headers", "valid_until"}

// Store implements queue.Store on top of database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
	sb      squirrel.StatementBuilderType
	logger  logger.Logger
}

var (
	_ queue.Store  = (*Store)(nil)
	_ queue.Closer = (*Store)(nil)
)

// New wraps an open database handle. An empty table selects DefaultTable.
func New(db *sql.DB, dialect Dialect, table string, log logger.Logger) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if err := validateTable(table); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		table:   table,
		sb:      dialect.builder(),
		logger:  log,
	}, nil
}

// Dialect returns the SQL vendor of the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Insert(ctx context.Context, req *queue.PendingRequest) (int64, error) {
	if err := queue.Validate(req); err != nil {
		return 0, s.fail(queue.OpInsert, err)
	}
	encoded, err := headers.Encode(req.Headers)
	if err != nil {
		return 0, s.fail(queue.OpInsert, err)
	}

	var content, contentType sql.NullString
	if req.Body != nil {
		content = sql.NullString{String: req.Body.Content, Valid: true}
		contentType = sql.NullString{String: req.Body.ContentType, Valid: req.Body.ContentType != ""}
	}
	values := []any{req.Method, req.URL, content, contentType, encoded, req.ValidUntil}

	var id int64
	switch s.dialect {
	case Oracle:
		id, err = s.insertOracle(ctx, values)
	default:
		id, err = s.insertPostgres(ctx, values)
	}
	if err != nil {
		return 0, s.fail(queue.OpInsert, err)
	}

	s.logger.Debug().Int64("id", id).Str("table", s.table).Msg("Stored pending request")
	return id, nil
}

func (s *Store) insertPostgres(ctx context.Context, values []any) (int64, error) {
	query, args, err := s.sb.Insert(s.table).
		Columns(columns...).
		Values(values...).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, err
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// insertOracle draws the id from the table sequence so it is known before the row is written.
func (s *Store) insertOracle(ctx context.Context, values []any) (int64, error) {
	var id int64
	seq := fmt.Sprintf("SELECT %s.NEXTVAL FROM DUAL", sequenceName(s.table))
	if err := s.db.QueryRowContext(ctx, seq).Scan(&id); err != nil {
		return 0, err
	}

	query, args, err := s.sb.Insert(s.table).
		Columns(append([]string{"id"}, columns...)...).
		Values(append([]any{id}, values...)...).
		ToSql()
	if err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) List(ctx context.Context) ([]*queue.PendingRequest, error) {
	query, args, err := s.sb.Select(append([]string{"id"}, columns...)...).
		From(s.table).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, s.fail(queue.OpList, err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail(queue.OpList, err)
	}
	defer rows.Close()

	var out []*queue.PendingRequest
	for rows.Next() {
		req, err := s.scan(rows)
		if err != nil {
			return nil, s.fail(queue.OpList, err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(queue.OpList, err)
	}
	return out, nil
}

func (s *Store) scan(rows *sql.Rows) (*queue.PendingRequest, error) {
	var (
		req                          queue.PendingRequest
		content, contentType, header sql.NullString
	)
	if err := rows.Scan(&req.ID, &req.Method, &req.URL, &content, &contentType, &header, &req.ValidUntil); err != nil {
		return nil, err
	}

	if content.Valid || contentType.Valid {
		req.Body = &queue.Body{Content: content.String, ContentType: contentType.String}
	}

	hs, err := headers.Decode(header.String)
	if err != nil {
		s.logger.Warn().Err(err).Int64("id", req.ID).Msg("Stored headers are malformed, treating as empty")
		hs = []headers.Header{}
	}
	req.Headers = hs
	return &req, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	query, args, err := s.sb.Delete(s.table).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return s.fail(queue.OpDelete, err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return s.fail(queue.OpDelete, err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	query, args, err := s.sb.Select("COUNT(*)").From(s.table).ToSql()
	if err != nil {
		return 0, s.fail(queue.OpCount, err)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, s.fail(queue.OpCount, err)
	}
	return n, nil
}

// Migrate creates the queue table (and the Oracle id sequence) when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema(s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if s.dialect == Oracle && alreadyExists(err) {
				continue
			}
			return s.fail(queue.OpMigrate, err)
		}
	}
	s.logger.Info().Str("table", s.table).Str("dialect", string(s.dialect)).Msg("Queue schema ready")
	return nil
}

// Close releases the database handle.
func (s *Store) Close(_ context.Context) error {
	return s.db.Close()
}

func (s *Store) fail(op string, err error) error {
	return queue.NewStoreError(op, string(s.dialect), err)
}
