package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision/internal/model"
)

// backends returns a fresh instance of every store that can run in-process.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	lite, err := NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": lite,
	}
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	student model.Student
	other   model.Student
	faculty model.Faculty
	subject model.Subject
	session model.Session
}

func seedFixture(t *testing.T, s Store) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{
		student: model.Student{RollNo: "CS001", Name: "Mohammad Zaid", Department: "CS"},
		other:   model.Student{RollNo: "EE001", Name: "Umra Hashmi", Department: "EE"},
		faculty: model.Faculty{EmployeeID: "FAC001", Name: "Dr. Rao", Department: "CS"},
		subject: model.Subject{Code: "CS301", Name: "Operating Systems", Department: "CS", Credits: 3},
	}
	require.NoError(t, s.CreateStudent(ctx, &f.student))
	require.NoError(t, s.CreateStudent(ctx, &f.other))
	require.NoError(t, s.CreateFaculty(ctx, &f.faculty))
	require.NoError(t, s.CreateSubject(ctx, &f.subject))
	f.session = model.Session{
		SubjectID:      f.subject.ID,
		FacultyID:      f.faculty.ID,
		Section:        "A",
		ScheduledStart: t0,
		ScheduledEnd:   t0.Add(time.Hour),
	}
	require.NoError(t, s.CreateSession(ctx, &f.session))
	return f
}

func TestNaturalKeysAreUnique(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := seedFixture(t, s)

			dup := model.Student{RollNo: "CS001", Name: "Someone Else", Department: "CS"}
			assert.ErrorIs(t, s.CreateStudent(ctx, &dup), ErrDuplicateKey)
			dupFac := model.Faculty{EmployeeID: "FAC001", Name: "Other", Department: "CS"}
			assert.ErrorIs(t, s.CreateFaculty(ctx, &dupFac), ErrDuplicateKey)
			dupSub := model.Subject{Code: "CS301", Name: "Other", Department: "CS"}
			assert.ErrorIs(t, s.CreateSubject(ctx, &dupSub), ErrDuplicateKey)

			got, err := s.GetStudentByRollNo(ctx, "CS001")
			require.NoError(t, err)
			assert.Equal(t, f.student.ID, got.ID)
			assert.Equal(t, "Mohammad Zaid", got.Name)

			fac, err := s.GetFacultyByEmployeeID(ctx, "FAC001")
			require.NoError(t, err)
			assert.Equal(t, f.faculty.ID, fac.ID)

			sub, err := s.GetSubjectByCode(ctx, "CS301")
			require.NoError(t, err)
			assert.Equal(t, 3, sub.Credits)
		})
	}
}

func TestLookupMisses(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.GetStudent(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetStudentByRollNo(ctx, "XX999")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetFaculty(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetSubject(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetSession(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetActiveSession(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetAttendance(ctx, "a", "b")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListByDepartment(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedFixture(t, s)
			extra := model.Student{RollNo: "CS000", Name: "Arshad Khan", Department: "CS"}
			require.NoError(t, s.CreateStudent(ctx, &extra))

			cs, err := s.ListStudents(ctx, "CS")
			require.NoError(t, err)
			require.Len(t, cs, 2)
			assert.Equal(t, "CS000", cs[0].RollNo)
			assert.Equal(t, "CS001", cs[1].RollNo)

			all, err := s.ListStudents(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			subs, err := s.ListSubjects(ctx, "ME")
			require.NoError(t, err)
			assert.Empty(t, subs)
		})
	}
}

func TestSessionReferencesMustResolve(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := seedFixture(t, s)
			se := model.Session{
				SubjectID:      "nope",
				FacultyID:      f.faculty.ID,
				Section:        "B",
				ScheduledStart: t0,
				ScheduledEnd:   t0.Add(time.Hour),
			}
			assert.ErrorIs(t, s.CreateSession(context.Background(), &se), ErrMissingReference)
		})
	}
}

func TestUpdateSessionIsConditional(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := seedFixture(t, s)
			assert.Equal(t, model.SessionScheduled, f.session.Status)

			started := t0.Add(2 * time.Minute)
			got, err := s.UpdateSession(ctx, f.session.ID, model.SessionScheduled, SessionPatch{
				Status:      model.SessionActive,
				ActualStart: &started,
			})
			require.NoError(t, err)
			assert.Equal(t, model.SessionActive, got.Status)
			require.NotNil(t, got.ActualStart)
			assert.True(t, started.Equal(*got.ActualStart))
			assert.Nil(t, got.ActualEnd)

			_, err = s.UpdateSession(ctx, f.session.ID, model.SessionScheduled, SessionPatch{Status: model.SessionActive})
			assert.ErrorIs(t, err, ErrStaleState)

			_, err = s.UpdateSession(ctx, "missing", model.SessionScheduled, SessionPatch{Status: model.SessionActive})
			assert.ErrorIs(t, err, ErrNotFound)

			active, err := s.GetActiveSession(ctx, f.faculty.ID)
			require.NoError(t, err)
			assert.Equal(t, f.session.ID, active.ID)

			ended := t0.Add(time.Hour)
			got, err = s.UpdateSession(ctx, f.session.ID, model.SessionActive, SessionPatch{
				Status:    model.SessionCompleted,
				ActualEnd: &ended,
			})
			require.NoError(t, err)
			require.NotNil(t, got.ActualStart)
			assert.True(t, started.Equal(*got.ActualStart), "actual start survives a patch that omits it")
			assert.True(t, ended.Equal(*got.ActualEnd))

			_, err = s.GetActiveSession(ctx, f.faculty.ID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestOneActiveSessionPerFaculty(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := seedFixture(t, s)
			second := model.Session{
				SubjectID:      f.subject.ID,
				FacultyID:      f.faculty.ID,
				Section:        "B",
				ScheduledStart: t0.Add(2 * time.Hour),
				ScheduledEnd:   t0.Add(3 * time.Hour),
			}
			require.NoError(t, s.CreateSession(ctx, &second))

			_, err := s.UpdateSession(ctx, f.session.ID, model.SessionScheduled, SessionPatch{Status: model.SessionActive})
			require.NoError(t, err)
			_, err = s.UpdateSession(ctx, second.ID, model.SessionScheduled, SessionPatch{Status: model.SessionActive})
			assert.ErrorIs(t, err, ErrDuplicateKey)

			got, err := s.GetSession(ctx, second.ID)
			require.NoError(t, err)
			assert.Equal(t, model.SessionScheduled, got.Status)

			active, err := s.ListSessions(ctx, SessionFilter{FacultyID: f.faculty.ID, Status: model.SessionActive})
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, f.session.ID, active[0].ID)

			cutoff := t0.Add(90 * time.Minute)
			early, err := s.ListSessions(ctx, SessionFilter{EndBefore: &cutoff})
			require.NoError(t, err)
			require.Len(t, early, 1)
			assert.Equal(t, f.session.ID, early[0].ID)
		})
	}
}

func newRecord(f fixture, student model.Student) model.AttendanceRecord {
	at := t0.Add(5 * time.Minute)
	return model.AttendanceRecord{
		SessionID: f.session.ID,
		StudentID: student.ID,
		Status:    model.StatusPresent,
		MarkedAt:  &at,
		MarkedBy:  model.MarkedBySystem,
		Method:    model.MethodFacialRecognition,
	}
}

func TestAttendancePairIsUnique(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := seedFixture(t, s)

			first := newRecord(f, f.student)
			require.NoError(t, s.CreateAttendance(ctx, &first))
			assert.NotEmpty(t, first.ID)

			second := newRecord(f, f.student)
			second.Status = model.StatusLate
			assert.ErrorIs(t, s.CreateAttendance(ctx, &second), ErrDuplicateKey)

			got, err := s.GetAttendance(ctx, f.session.ID, f.student.ID)
			require.NoError(t, err)
			assert.Equal(t, first.ID, got.ID)
			assert.Equal(t, model.StatusPresent, got.Status)
			assert.Equal(t, model.MarkedBySystem, got.MarkedBy)
			assert.Equal(t, model.MethodFacialRecognition, got.Method)
			require.NotNil(t, got.MarkedAt)
			assert.True(t, first.MarkedAt.Equal(*got.MarkedAt))

			bad := newRecord(f, f.student)
			bad.StudentID = "ghost"
			assert.ErrorIs(t, s.CreateAttendance(ctx, &bad), ErrMissingReference)
		})
	}
}

func TestConcurrentAttendanceInsertsKeepOneRecord(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := seedFixture(t, s)

			const workers = 16
			var wg sync.WaitGroup
			errs := make([]error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					rec := newRecord(f, f.student)
					errs[i] = s.CreateAttendance(ctx, &rec)
				}(i)
			}
			wg.Wait()

			succeeded := 0
			for _, err := range errs {
				if err == nil {
					succeeded++
					continue
				}
				assert.ErrorIs(t, err, ErrDuplicateKey)
			}
			assert.Equal(t, 1, succeeded)

			recs, err := s.ListAttendance(ctx, AttendanceFilter{SessionID: f.session.ID})
			require.NoError(t, err)
			assert.Len(t, recs, 1)
		})
	}
}

func TestUpdateAttendanceKeepsUnspecifiedFields(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := seedFixture(t, s)
			rec := newRecord(f, f.student)
			require.NoError(t, s.CreateAttendance(ctx, &rec))

			late := model.StatusLate
			got, err := s.UpdateAttendance(ctx, rec.ID, AttendancePatch{Status: &late})
			require.NoError(t, err)
			assert.Equal(t, model.StatusLate, got.Status)
			assert.Equal(t, model.MethodFacialRecognition, got.Method)
			assert.Equal(t, model.MarkedBySystem, got.MarkedBy)
			assert.False(t, got.IsProxy)

			_, err = s.UpdateAttendance(ctx, "missing", AttendancePatch{Status: &late})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListAttendanceFilters(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := seedFixture(t, s)

			later := model.Session{
				SubjectID:      f.subject.ID,
				FacultyID:      f.faculty.ID,
				Section:        "A",
				ScheduledStart: t0.Add(24 * time.Hour),
				ScheduledEnd:   t0.Add(25 * time.Hour),
			}
			require.NoError(t, s.CreateSession(ctx, &later))

			a := newRecord(f, f.student)
			a.CreatedAt = t0.Add(time.Minute)
			require.NoError(t, s.CreateAttendance(ctx, &a))
			b := newRecord(f, f.other)
			b.IsProxy = true
			b.CreatedAt = t0.Add(2 * time.Minute)
			require.NoError(t, s.CreateAttendance(ctx, &b))
			c := newRecord(f, f.student)
			c.SessionID = later.ID
			c.Status = model.StatusAbsent
			c.CreatedAt = t0.Add(24 * time.Hour)
			require.NoError(t, s.CreateAttendance(ctx, &c))

			cs, err := s.ListAttendance(ctx, AttendanceFilter{Department: "CS"})
			require.NoError(t, err)
			assert.Len(t, cs, 2)

			proxies, err := s.ListAttendance(ctx, AttendanceFilter{ProxyOnly: true})
			require.NoError(t, err)
			require.Len(t, proxies, 1)
			assert.Equal(t, b.ID, proxies[0].ID)

			// Window bounds are inclusive on both ends.
			from, to := t0, t0.Add(time.Hour)
			inWin, err := s.ListAttendance(ctx, AttendanceFilter{StudentID: f.student.ID, From: &from, To: &to})
			require.NoError(t, err)
			require.Len(t, inWin, 1)
			assert.Equal(t, a.ID, inWin[0].ID)

			to = t0.Add(59 * time.Minute)
			none, err := s.ListAttendance(ctx, AttendanceFilter{StudentID: f.student.ID, From: &from, To: &to})
			require.NoError(t, err)
			assert.Empty(t, none)

			all, err := s.ListAttendance(ctx, AttendanceFilter{StudentID: f.student.ID})
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, a.ID, all[0].ID)
			assert.Equal(t, c.ID, all[1].ID)
		})
	}
}

func TestLogsNewestFirst(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, action := range []string{"session.start", "attendance.mark", "session.end"} {
				l := model.SystemLog{Action: action, EntityType: "session", CreatedAt: t0.Add(time.Duration(i) * time.Second)}
				require.NoError(t, s.AppendLog(ctx, &l))
				assert.NotEmpty(t, l.ID)
			}

			logs, err := s.ListLogs(ctx, 2)
			require.NoError(t, err)
			require.Len(t, logs, 2)
			assert.Equal(t, "session.end", logs[0].Action)
			assert.Equal(t, "attendance.mark", logs[1].Action)

			logs, err = s.ListLogs(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, logs, 3)
		})
	}
}
