package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// dialect captures what differs between the SQL backends: driver name,
// schema, placeholder style and constraint error codes.
type dialect struct {
	name       string
	driver     string
	schema     string
	numbered   bool
	uniqueErr  func(error) bool
	foreignErr func(error) bool
}

func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// mapErr converts driver constraint errors into store sentinels.
func (d dialect) mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case d.uniqueErr(err):
		return ErrDuplicateKey
	case d.foreignErr(err):
		return ErrMissingReference
	}
	return err
}

var postgresDialect = dialect{
	name:     "postgres",
	driver:   "pgx",
	numbered: true,
	uniqueErr: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	},
	foreignErr: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23503"
	},
	schema: `
	CREATE TABLE IF NOT EXISTS students (
		id          TEXT PRIMARY KEY,
		roll_no     VARCHAR(20) NOT NULL UNIQUE,
		name        TEXT NOT NULL,
		department  VARCHAR(10) NOT NULL,
		email       VARCHAR(255) NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS faculty (
		id           TEXT PRIMARY KEY,
		employee_id  VARCHAR(20) NOT NULL UNIQUE,
		name         TEXT NOT NULL,
		department   VARCHAR(10) NOT NULL,
		email        VARCHAR(255) NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS subjects (
		id          TEXT PRIMARY KEY,
		code        VARCHAR(20) NOT NULL UNIQUE,
		name        TEXT NOT NULL,
		department  VARCHAR(10) NOT NULL,
		credits     INTEGER NOT NULL DEFAULT 3
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id               TEXT PRIMARY KEY,
		subject_id       TEXT NOT NULL REFERENCES subjects(id),
		faculty_id       TEXT NOT NULL REFERENCES faculty(id),
		section          VARCHAR(10) NOT NULL,
		scheduled_start  TIMESTAMPTZ NOT NULL,
		scheduled_end    TIMESTAMPTZ NOT NULL,
		actual_start     TIMESTAMPTZ,
		actual_end       TIMESTAMPTZ,
		status           VARCHAR(20) NOT NULL DEFAULT 'scheduled',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS sessions_one_active_per_faculty
		ON sessions (faculty_id) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS sessions_scheduled ON sessions (scheduled_start, scheduled_end);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL REFERENCES sessions(id),
		student_id  TEXT NOT NULL REFERENCES students(id),
		status      VARCHAR(20) NOT NULL,
		marked_at   TIMESTAMPTZ,
		marked_by   VARCHAR(50) NOT NULL,
		method      VARCHAR(20) NOT NULL,
		is_proxy    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (session_id, student_id)
	);

	CREATE INDEX IF NOT EXISTS attendance_student ON attendance_records (student_id);

	CREATE TABLE IF NOT EXISTS system_logs (
		id           TEXT PRIMARY KEY,
		action       TEXT NOT NULL,
		entity_type  VARCHAR(50) NOT NULL DEFAULT '',
		entity_id    TEXT NOT NULL DEFAULT '',
		user_id      TEXT NOT NULL DEFAULT '',
		details      TEXT NOT NULL DEFAULT '',
		ip_address   VARCHAR(45) NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS system_logs_created ON system_logs (created_at DESC);
	`,
}

var sqliteDialect = dialect{
	name:   "sqlite",
	driver: "sqlite3",
	uniqueErr: func(err error) bool {
		var sqErr sqlite3.Error
		return errors.As(err, &sqErr) &&
			(sqErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	},
	foreignErr: func(err error) bool {
		var sqErr sqlite3.Error
		return errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	},
	schema: `
	CREATE TABLE IF NOT EXISTS students (
		id          TEXT PRIMARY KEY,
		roll_no     TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL,
		department  TEXT NOT NULL,
		email       TEXT NOT NULL DEFAULT '',
		created_at  DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS faculty (
		id           TEXT PRIMARY KEY,
		employee_id  TEXT NOT NULL UNIQUE,
		name         TEXT NOT NULL,
		department   TEXT NOT NULL,
		email        TEXT NOT NULL DEFAULT '',
		created_at   DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subjects (
		id          TEXT PRIMARY KEY,
		code        TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL,
		department  TEXT NOT NULL,
		credits     INTEGER NOT NULL DEFAULT 3
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id               TEXT PRIMARY KEY,
		subject_id       TEXT NOT NULL REFERENCES subjects(id),
		faculty_id       TEXT NOT NULL REFERENCES faculty(id),
		section          TEXT NOT NULL,
		scheduled_start  DATETIME NOT NULL,
		scheduled_end    DATETIME NOT NULL,
		actual_start     DATETIME,
		actual_end       DATETIME,
		status           TEXT NOT NULL DEFAULT 'scheduled',
		created_at       DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS sessions_one_active_per_faculty
		ON sessions (faculty_id) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS sessions_scheduled ON sessions (scheduled_start, scheduled_end);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL REFERENCES sessions(id),
		student_id  TEXT NOT NULL REFERENCES students(id),
		status      TEXT NOT NULL,
		marked_at   DATETIME,
		marked_by   TEXT NOT NULL,
		method      TEXT NOT NULL,
		is_proxy    BOOLEAN NOT NULL DEFAULT 0,
		created_at  DATETIME NOT NULL,
		UNIQUE (session_id, student_id)
	);

	CREATE INDEX IF NOT EXISTS attendance_student ON attendance_records (student_id);

	CREATE TABLE IF NOT EXISTS system_logs (
		id           TEXT PRIMARY KEY,
		action       TEXT NOT NULL,
		entity_type  TEXT NOT NULL DEFAULT '',
		entity_id    TEXT NOT NULL DEFAULT '',
		user_id      TEXT NOT NULL DEFAULT '',
		details      TEXT NOT NULL DEFAULT '',
		ip_address   TEXT NOT NULL DEFAULT '',
		created_at   DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS system_logs_created ON system_logs (created_at DESC);
	`,
}
