package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"vision/internal/model"
)

// SQLStore persists records in Postgres or SQLite through database/sql.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

// Migrate creates the schema if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.d.schema)
	return err
}

// DB exposes the underlying pool for health checks.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.d.rebind(query), args...)
	return res, s.d.mapErr(err)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.d.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.d.rebind(query), args...)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// -------- Students --------

const studentCols = `id, roll_no, name, department, email, created_at`

func scanStudent(row interface{ Scan(...any) error }) (model.Student, error) {
	var st model.Student
	if err := row.Scan(&st.ID, &st.RollNo, &st.Name, &st.Department, &st.Email, &st.CreatedAt); err != nil {
		return model.Student{}, err
	}
	st.CreatedAt = st.CreatedAt.UTC()
	return st, nil
}

func (s *SQLStore) CreateStudent(ctx context.Context, st *model.Student) error {
	id := uuid.NewString()
	created := st.CreatedAt
	if created.IsZero() {
		created = Now()
	}
	created = normTime(created)
	_, err := s.exec(ctx, `INSERT INTO students (`+studentCols+`) VALUES (?, ?, ?, ?, ?, ?)`,
		id, st.RollNo, st.Name, st.Department, st.Email, created)
	if err != nil {
		return err
	}
	st.ID, st.CreatedAt = id, created
	return nil
}

func (s *SQLStore) GetStudent(ctx context.Context, id string) (model.Student, error) {
	st, err := scanStudent(s.queryRow(ctx, `SELECT `+studentCols+` FROM students WHERE id = ?`, id))
	return st, notFound(err)
}

func (s *SQLStore) GetStudentByRollNo(ctx context.Context, rollNo string) (model.Student, error) {
	st, err := scanStudent(s.queryRow(ctx, `SELECT `+studentCols+` FROM students WHERE roll_no = ?`, rollNo))
	return st, notFound(err)
}

func (s *SQLStore) ListStudents(ctx context.Context, department string) ([]model.Student, error) {
	query := `SELECT ` + studentCols + ` FROM students`
	var args []any
	if department != "" {
		query += ` WHERE department = ?`
		args = append(args, department)
	}
	rows, err := s.query(ctx, query+` ORDER BY roll_no`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Student{}
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// -------- Faculty --------

const facultyCols = `id, employee_id, name, department, email, created_at`

func scanFaculty(row interface{ Scan(...any) error }) (model.Faculty, error) {
	var f model.Faculty
	if err := row.Scan(&f.ID, &f.EmployeeID, &f.Name, &f.Department, &f.Email, &f.CreatedAt); err != nil {
		return model.Faculty{}, err
	}
	f.CreatedAt = f.CreatedAt.UTC()
	return f, nil
}

func (s *SQLStore) CreateFaculty(ctx context.Context, f *model.Faculty) error {
	id := uuid.NewString()
	created := f.CreatedAt
	if created.IsZero() {
		created = Now()
	}
	created = normTime(created)
	_, err := s.exec(ctx, `INSERT INTO faculty (`+facultyCols+`) VALUES (?, ?, ?, ?, ?, ?)`,
		id, f.EmployeeID, f.Name, f.Department, f.Email, created)
	if err != nil {
		return err
	}
	f.ID, f.CreatedAt = id, created
	return nil
}

func (s *SQLStore) GetFaculty(ctx context.Context, id string) (model.Faculty, error) {
	f, err := scanFaculty(s.queryRow(ctx, `SELECT `+facultyCols+` FROM faculty WHERE id = ?`, id))
	return f, notFound(err)
}

func (s *SQLStore) GetFacultyByEmployeeID(ctx context.Context, employeeID string) (model.Faculty, error) {
	f, err := scanFaculty(s.queryRow(ctx, `SELECT `+facultyCols+` FROM faculty WHERE employee_id = ?`, employeeID))
	return f, notFound(err)
}

// -------- Subjects --------

const subjectCols = `id, code, name, department, credits`

func scanSubject(row interface{ Scan(...any) error }) (model.Subject, error) {
	var sub model.Subject
	err := row.Scan(&sub.ID, &sub.Code, &sub.Name, &sub.Department, &sub.Credits)
	return sub, err
}

func (s *SQLStore) CreateSubject(ctx context.Context, sub *model.Subject) error {
	id := uuid.NewString()
	_, err := s.exec(ctx, `INSERT INTO subjects (`+subjectCols+`) VALUES (?, ?, ?, ?, ?)`,
		id, sub.Code, sub.Name, sub.Department, sub.Credits)
	if err != nil {
		return err
	}
	sub.ID = id
	return nil
}

func (s *SQLStore) GetSubject(ctx context.Context, id string) (model.Subject, error) {
	sub, err := scanSubject(s.queryRow(ctx, `SELECT `+subjectCols+` FROM subjects WHERE id = ?`, id))
	return sub, notFound(err)
}

func (s *SQLStore) GetSubjectByCode(ctx context.Context, code string) (model.Subject, error) {
	sub, err := scanSubject(s.queryRow(ctx, `SELECT `+subjectCols+` FROM subjects WHERE code = ?`, code))
	return sub, notFound(err)
}

func (s *SQLStore) ListSubjects(ctx context.Context, department string) ([]model.Subject, error) {
	query := `SELECT ` + subjectCols + ` FROM subjects`
	var args []any
	if department != "" {
		query += ` WHERE department = ?`
		args = append(args, department)
	}
	rows, err := s.query(ctx, query+` ORDER BY code`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subject{}
	for rows.Next() {
		sub, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// -------- Sessions --------

const sessionCols = `id, subject_id, faculty_id, section, scheduled_start, scheduled_end, actual_start, actual_end, status, created_at`

func scanSession(row interface{ Scan(...any) error }) (model.Session, error) {
	var se model.Session
	err := row.Scan(&se.ID, &se.SubjectID, &se.FacultyID, &se.Section, &se.ScheduledStart, &se.ScheduledEnd,
		&se.ActualStart, &se.ActualEnd, &se.Status, &se.CreatedAt)
	if err != nil {
		return model.Session{}, err
	}
	se.ScheduledStart = se.ScheduledStart.UTC()
	se.ScheduledEnd = se.ScheduledEnd.UTC()
	se.ActualStart = utcPtr(se.ActualStart)
	se.ActualEnd = utcPtr(se.ActualEnd)
	se.CreatedAt = se.CreatedAt.UTC()
	return se, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func (s *SQLStore) CreateSession(ctx context.Context, se *model.Session) error {
	rec := *se
	rec.ID = uuid.NewString()
	if rec.Status == "" {
		rec.Status = model.SessionScheduled
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = Now()
	}
	rec.CreatedAt = normTime(rec.CreatedAt)
	rec.ScheduledStart = normTime(rec.ScheduledStart)
	rec.ScheduledEnd = normTime(rec.ScheduledEnd)
	rec.ActualStart = normTimePtr(rec.ActualStart)
	rec.ActualEnd = normTimePtr(rec.ActualEnd)
	_, err := s.exec(ctx, `INSERT INTO sessions (`+sessionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SubjectID, rec.FacultyID, rec.Section, rec.ScheduledStart, rec.ScheduledEnd,
		rec.ActualStart, rec.ActualEnd, string(rec.Status), rec.CreatedAt)
	if err != nil {
		return err
	}
	*se = rec
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (model.Session, error) {
	se, err := scanSession(s.queryRow(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id))
	return se, notFound(err)
}

func (s *SQLStore) ListSessions(ctx context.Context, f SessionFilter) ([]model.Session, error) {
	var clauses []string
	var args []any
	if f.FacultyID != "" {
		clauses = append(clauses, "faculty_id = ?")
		args = append(args, f.FacultyID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.EndBefore != nil {
		clauses = append(clauses, "scheduled_end < ?")
		args = append(args, normTime(*f.EndBefore))
	}
	query := `SELECT ` + sessionCols + ` FROM sessions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := s.query(ctx, query+` ORDER BY scheduled_start`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Session{}
	for rows.Next() {
		se, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateSession(ctx context.Context, id string, from model.SessionStatus, patch SessionPatch) (model.Session, error) {
	status := patch.Status
	if status == "" {
		status = from
	}
	res, err := s.exec(ctx, `
		UPDATE sessions
		SET status = ?, actual_start = COALESCE(?, actual_start), actual_end = COALESCE(?, actual_end)
		WHERE id = ? AND status = ?
	`, string(status), normTimePtr(patch.ActualStart), normTimePtr(patch.ActualEnd), id, string(from))
	if err != nil {
		return model.Session{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Session{}, err
	}
	if n == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return model.Session{}, err
		}
		return model.Session{}, ErrStaleState
	}
	return s.GetSession(ctx, id)
}

func (s *SQLStore) GetActiveSession(ctx context.Context, facultyID string) (model.Session, error) {
	se, err := scanSession(s.queryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE faculty_id = ? AND status = ?`, facultyID, string(model.SessionActive)))
	return se, notFound(err)
}

// -------- Attendance --------

const attendanceCols = `id, session_id, student_id, status, marked_at, marked_by, method, is_proxy, created_at`

func scanAttendance(row interface{ Scan(...any) error }) (model.AttendanceRecord, error) {
	var r model.AttendanceRecord
	err := row.Scan(&r.ID, &r.SessionID, &r.StudentID, &r.Status, &r.MarkedAt, &r.MarkedBy, &r.Method, &r.IsProxy, &r.CreatedAt)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	r.MarkedAt = utcPtr(r.MarkedAt)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func (s *SQLStore) CreateAttendance(ctx context.Context, r *model.AttendanceRecord) error {
	rec := *r
	rec.ID = uuid.NewString()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = Now()
	}
	rec.CreatedAt = normTime(rec.CreatedAt)
	rec.MarkedAt = normTimePtr(rec.MarkedAt)
	_, err := s.exec(ctx, `INSERT INTO attendance_records (`+attendanceCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.StudentID, string(rec.Status), rec.MarkedAt, string(rec.MarkedBy), string(rec.Method),
		rec.IsProxy, rec.CreatedAt)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

func (s *SQLStore) GetAttendance(ctx context.Context, sessionID, studentID string) (model.AttendanceRecord, error) {
	r, err := scanAttendance(s.queryRow(ctx,
		`SELECT `+attendanceCols+` FROM attendance_records WHERE session_id = ? AND student_id = ?`, sessionID, studentID))
	return r, notFound(err)
}

func (s *SQLStore) UpdateAttendance(ctx context.Context, id string, patch AttendancePatch) (model.AttendanceRecord, error) {
	var sets []string
	var args []any
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Method != nil {
		sets = append(sets, "method = ?")
		args = append(args, string(*patch.Method))
	}
	if patch.MarkedBy != nil {
		sets = append(sets, "marked_by = ?")
		args = append(args, string(*patch.MarkedBy))
	}
	if patch.MarkedAt != nil {
		sets = append(sets, "marked_at = ?")
		args = append(args, normTime(*patch.MarkedAt))
	}
	if patch.IsProxy != nil {
		sets = append(sets, "is_proxy = ?")
		args = append(args, *patch.IsProxy)
	}
	if len(sets) > 0 {
		args = append(args, id)
		res, err := s.exec(ctx, `UPDATE attendance_records SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return model.AttendanceRecord{}, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return model.AttendanceRecord{}, ErrNotFound
		}
	}
	r, err := scanAttendance(s.queryRow(ctx, `SELECT `+attendanceCols+` FROM attendance_records WHERE id = ?`, id))
	return r, notFound(err)
}

func (s *SQLStore) ListAttendance(ctx context.Context, f AttendanceFilter) ([]model.AttendanceRecord, error) {
	var clauses []string
	var args []any
	if f.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.StudentID != "" {
		clauses = append(clauses, "student_id = ?")
		args = append(args, f.StudentID)
	}
	if f.Department != "" {
		clauses = append(clauses, "student_id IN (SELECT id FROM students WHERE department = ?)")
		args = append(args, f.Department)
	}
	if f.From != nil || f.To != nil {
		var window []string
		if f.From != nil {
			window = append(window, "scheduled_start >= ?")
			args = append(args, normTime(*f.From))
		}
		if f.To != nil {
			window = append(window, "scheduled_end <= ?")
			args = append(args, normTime(*f.To))
		}
		clauses = append(clauses, "session_id IN (SELECT id FROM sessions WHERE "+strings.Join(window, " AND ")+")")
	}
	if f.ProxyOnly {
		clauses = append(clauses, "is_proxy = ?")
		args = append(args, true)
	}
	query := `SELECT ` + attendanceCols + ` FROM attendance_records`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := s.query(ctx, query+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.AttendanceRecord{}
	for rows.Next() {
		r, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// -------- System logs --------

const logCols = `id, action, entity_type, entity_id, user_id, details, ip_address, created_at`

func (s *SQLStore) AppendLog(ctx context.Context, l *model.SystemLog) error {
	id := uuid.NewString()
	created := l.CreatedAt
	if created.IsZero() {
		created = Now()
	}
	created = normTime(created)
	_, err := s.exec(ctx, `INSERT INTO system_logs (`+logCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, l.Action, l.EntityType, l.EntityID, l.UserID, l.Details, l.IPAddress, created)
	if err != nil {
		return err
	}
	l.ID, l.CreatedAt = id, created
	return nil
}

func (s *SQLStore) ListLogs(ctx context.Context, limit int) ([]model.SystemLog, error) {
	query := `SELECT ` + logCols + ` FROM system_logs ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.SystemLog{}
	for rows.Next() {
		var l model.SystemLog
		if err := rows.Scan(&l.ID, &l.Action, &l.EntityType, &l.EntityID, &l.UserID, &l.Details, &l.IPAddress, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.CreatedAt = l.CreatedAt.UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the underlying connection.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
