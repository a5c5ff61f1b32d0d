package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"vision/internal/model"
)

type pairKey struct {
	sessionID string
	studentID string
}

// Memory is a map-backed Store. Uniqueness and reference checks happen under
// one lock, so concurrent inserts of the same natural key cannot both succeed.
type Memory struct {
	mu sync.RWMutex

	students       map[string]model.Student
	studentByRoll  map[string]string
	studentOrder   []string
	faculty        map[string]model.Faculty
	facultyByEmpID map[string]string
	subjects       map[string]model.Subject
	subjectByCode  map[string]string
	subjectOrder   []string
	sessions       map[string]model.Session
	sessionOrder   []string
	activeSession  map[string]string // facultyID -> sessionID
	records        map[string]model.AttendanceRecord
	recordByPair   map[pairKey]string
	recordOrder    []string
	logs           []model.SystemLog
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		students:       make(map[string]model.Student),
		studentByRoll:  make(map[string]string),
		faculty:        make(map[string]model.Faculty),
		facultyByEmpID: make(map[string]string),
		subjects:       make(map[string]model.Subject),
		subjectByCode:  make(map[string]string),
		sessions:       make(map[string]model.Session),
		activeSession:  make(map[string]string),
		records:        make(map[string]model.AttendanceRecord),
		recordByPair:   make(map[pairKey]string),
	}
}

// -------- Students --------

func (m *Memory) CreateStudent(_ context.Context, s *model.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.studentByRoll[s.RollNo]; ok {
		return ErrDuplicateKey
	}
	s.ID = uuid.NewString()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = Now()
	}
	s.CreatedAt = normTime(s.CreatedAt)
	m.students[s.ID] = *s
	m.studentByRoll[s.RollNo] = s.ID
	m.studentOrder = append(m.studentOrder, s.ID)
	return nil
}

func (m *Memory) GetStudent(_ context.Context, id string) (model.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return model.Student{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) GetStudentByRollNo(_ context.Context, rollNo string) (model.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.studentByRoll[rollNo]
	if !ok {
		return model.Student{}, ErrNotFound
	}
	return m.students[id], nil
}

func (m *Memory) ListStudents(_ context.Context, department string) ([]model.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Student{}
	for _, id := range m.studentOrder {
		s := m.students[id]
		if department == "" || s.Department == department {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RollNo < out[j].RollNo })
	return out, nil
}

// -------- Faculty --------

func (m *Memory) CreateFaculty(_ context.Context, f *model.Faculty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.facultyByEmpID[f.EmployeeID]; ok {
		return ErrDuplicateKey
	}
	f.ID = uuid.NewString()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = Now()
	}
	f.CreatedAt = normTime(f.CreatedAt)
	m.faculty[f.ID] = *f
	m.facultyByEmpID[f.EmployeeID] = f.ID
	return nil
}

func (m *Memory) GetFaculty(_ context.Context, id string) (model.Faculty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.faculty[id]
	if !ok {
		return model.Faculty{}, ErrNotFound
	}
	return f, nil
}

func (m *Memory) GetFacultyByEmployeeID(_ context.Context, employeeID string) (model.Faculty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.facultyByEmpID[employeeID]
	if !ok {
		return model.Faculty{}, ErrNotFound
	}
	return m.faculty[id], nil
}

// -------- Subjects --------

func (m *Memory) CreateSubject(_ context.Context, s *model.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subjectByCode[s.Code]; ok {
		return ErrDuplicateKey
	}
	s.ID = uuid.NewString()
	m.subjects[s.ID] = *s
	m.subjectByCode[s.Code] = s.ID
	m.subjectOrder = append(m.subjectOrder, s.ID)
	return nil
}

func (m *Memory) GetSubject(_ context.Context, id string) (model.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subjects[id]
	if !ok {
		return model.Subject{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) GetSubjectByCode(_ context.Context, code string) (model.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.subjectByCode[code]
	if !ok {
		return model.Subject{}, ErrNotFound
	}
	return m.subjects[id], nil
}

func (m *Memory) ListSubjects(_ context.Context, department string) ([]model.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Subject{}
	for _, id := range m.subjectOrder {
		s := m.subjects[id]
		if department == "" || s.Department == department {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// -------- Sessions --------

func (m *Memory) CreateSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subjects[s.SubjectID]; !ok {
		return ErrMissingReference
	}
	if _, ok := m.faculty[s.FacultyID]; !ok {
		return ErrMissingReference
	}
	if s.Status == "" {
		s.Status = model.SessionScheduled
	}
	if s.Status == model.SessionActive {
		if _, busy := m.activeSession[s.FacultyID]; busy {
			return ErrDuplicateKey
		}
	}
	s.ID = uuid.NewString()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = Now()
	}
	s.CreatedAt = normTime(s.CreatedAt)
	s.ScheduledStart = normTime(s.ScheduledStart)
	s.ScheduledEnd = normTime(s.ScheduledEnd)
	s.ActualStart = normTimePtr(s.ActualStart)
	s.ActualEnd = normTimePtr(s.ActualEnd)
	m.sessions[s.ID] = *s
	m.sessionOrder = append(m.sessionOrder, s.ID)
	if s.Status == model.SessionActive {
		m.activeSession[s.FacultyID] = s.ID
	}
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListSessions(_ context.Context, f SessionFilter) ([]model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Session{}
	for _, id := range m.sessionOrder {
		s := m.sessions[id]
		if f.FacultyID != "" && s.FacultyID != f.FacultyID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.EndBefore != nil && !s.ScheduledEnd.Before(*f.EndBefore) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledStart.Before(out[j].ScheduledStart) })
	return out, nil
}

func (m *Memory) UpdateSession(_ context.Context, id string, from model.SessionStatus, patch SessionPatch) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	if s.Status != from {
		return model.Session{}, ErrStaleState
	}
	if patch.Status == model.SessionActive && s.Status != model.SessionActive {
		if other, busy := m.activeSession[s.FacultyID]; busy && other != s.ID {
			return model.Session{}, ErrDuplicateKey
		}
	}
	if patch.Status != "" {
		s.Status = patch.Status
	}
	if patch.ActualStart != nil {
		s.ActualStart = normTimePtr(patch.ActualStart)
	}
	if patch.ActualEnd != nil {
		s.ActualEnd = normTimePtr(patch.ActualEnd)
	}
	m.sessions[id] = s
	if s.Status == model.SessionActive {
		m.activeSession[s.FacultyID] = s.ID
	} else if m.activeSession[s.FacultyID] == s.ID {
		delete(m.activeSession, s.FacultyID)
	}
	return s, nil
}

func (m *Memory) GetActiveSession(_ context.Context, facultyID string) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.activeSession[facultyID]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return m.sessions[id], nil
}

// -------- Attendance --------

func (m *Memory) CreateAttendance(_ context.Context, r *model.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[r.SessionID]; !ok {
		return ErrMissingReference
	}
	if _, ok := m.students[r.StudentID]; !ok {
		return ErrMissingReference
	}
	key := pairKey{r.SessionID, r.StudentID}
	if _, ok := m.recordByPair[key]; ok {
		return ErrDuplicateKey
	}
	r.ID = uuid.NewString()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = Now()
	}
	r.CreatedAt = normTime(r.CreatedAt)
	r.MarkedAt = normTimePtr(r.MarkedAt)
	m.records[r.ID] = *r
	m.recordByPair[key] = r.ID
	m.recordOrder = append(m.recordOrder, r.ID)
	return nil
}

func (m *Memory) GetAttendance(_ context.Context, sessionID, studentID string) (model.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.recordByPair[pairKey{sessionID, studentID}]
	if !ok {
		return model.AttendanceRecord{}, ErrNotFound
	}
	return m.records[id], nil
}

func (m *Memory) UpdateAttendance(_ context.Context, id string, patch AttendancePatch) (model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return model.AttendanceRecord{}, ErrNotFound
	}
	if patch.Status != nil {
		r.Status = *patch.Status
	}
	if patch.Method != nil {
		r.Method = *patch.Method
	}
	if patch.MarkedBy != nil {
		r.MarkedBy = *patch.MarkedBy
	}
	if patch.MarkedAt != nil {
		r.MarkedAt = normTimePtr(patch.MarkedAt)
	}
	if patch.IsProxy != nil {
		r.IsProxy = *patch.IsProxy
	}
	m.records[id] = r
	return r, nil
}

func (m *Memory) ListAttendance(_ context.Context, f AttendanceFilter) ([]model.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.AttendanceRecord{}
	for _, id := range m.recordOrder {
		r := m.records[id]
		if f.SessionID != "" && r.SessionID != f.SessionID {
			continue
		}
		if f.StudentID != "" && r.StudentID != f.StudentID {
			continue
		}
		if f.ProxyOnly && !r.IsProxy {
			continue
		}
		if f.Department != "" && m.students[r.StudentID].Department != f.Department {
			continue
		}
		if f.From != nil || f.To != nil {
			s, ok := m.sessions[r.SessionID]
			if !ok || !inWindow(s, f.From, f.To) {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// -------- System logs --------

func (m *Memory) AppendLog(_ context.Context, l *model.SystemLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = uuid.NewString()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = Now()
	}
	l.CreatedAt = normTime(l.CreatedAt)
	m.logs = append(m.logs, *l)
	return nil
}

func (m *Memory) ListLogs(_ context.Context, limit int) ([]model.SystemLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.logs) {
		limit = len(m.logs)
	}
	out := make([]model.SystemLog, 0, limit)
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.logs[i])
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
