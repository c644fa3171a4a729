package sqlstore

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/squirrel"
)

// Dialect names the SQL vendor a Store talks to.
type Dialect string

const (
	PostgreSQL Dialect = "postgresql"
	Oracle     Dialect = "oracle"
)

// DefaultTable is the queue table name used when none is configured.
const DefaultTable = "alioli_http_request"

var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

func validateTable(table string) error {
	if !identifierPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// ParseDialect maps a configured store type onto a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(s)) {
	case PostgreSQL:
		return PostgreSQL, nil
	case Oracle:
		return Oracle, nil
	default:
		return "", fmt.Errorf("unsupported SQL dialect %q", s)
	}
}

// builder returns a statement builder with the dialect's placeholder format.
func (d Dialect) builder() squirrel.StatementBuilderType {
	if d == Oracle {
		// Oracle uses :1, :2, ... placeholders
		return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Colon)
	}
	// PostgreSQL uses $1, $2, ... placeholders
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func sequenceName(table string) string {
	return table + "_seq"
}

// schema returns the DDL statements that create the queue table for d.
func (d Dialect) schema(table string) []string {
	if d == Oracle {
		return []string{
			fmt.Sprintf("CREATE SEQUENCE %s START WITH 1 INCREMENT BY 1 NOCACHE", sequenceName(table)),
			fmt.Sprintf(`CREATE TABLE %s (
	id NUMBER(19) PRIMARY KEY,
	method VARCHAR2(16) NOT NULL,
	url VARCHAR2(4000) NOT NULL,
	body_content CLOB,
	body_content_type VARCHAR2(255),
	headers CLOB,
	valid_until NUMBER(19) NOT NULL
)`, table),
		}
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	method VARCHAR(16) NOT NULL,
	url TEXT NOT NULL,
	body_content TEXT,
	body_content_type VARCHAR(255),
	headers TEXT NOT NULL DEFAULT '[]',
	valid_until BIGINT NOT NULL
)`, table),
	}
}

// alreadyExists reports the Oracle error raised when re-creating an existing object.
func alreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "ORA-00955")
}
