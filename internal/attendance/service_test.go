package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision/internal/audit"
	"vision/internal/faceclient"
	"vision/internal/metrics"
	"vision/internal/model"
	"vision/internal/store"
)

type fakeDetector struct {
	detection faceclient.Detection
	err       error
}

func (f fakeDetector) Identify(context.Context, string) (faceclient.Detection, error) {
	return f.detection, f.err
}

type env struct {
	store    *store.Memory
	recorder *Recorder
	metrics  *metrics.Metrics
	student  model.Student
	session  model.Session
}

func newEnv(t *testing.T, d Detector) *env {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	m := metrics.New(prometheus.NewRegistry())
	e := &env{store: s, metrics: m, recorder: NewRecorder(s, audit.NewDirect(s, nil), d, m, nil)}

	e.student = model.Student{RollNo: "CS001", Name: "Mohammad Zaid", Department: "CS"}
	require.NoError(t, s.CreateStudent(ctx, &e.student))
	fac := model.Faculty{EmployeeID: "FAC001", Name: "Dr. Rao", Department: "CS"}
	require.NoError(t, s.CreateFaculty(ctx, &fac))
	sub := model.Subject{Code: "CS301", Name: "Operating Systems", Department: "CS", Credits: 3}
	require.NoError(t, s.CreateSubject(ctx, &sub))
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	e.session = model.Session{SubjectID: sub.ID, FacultyID: fac.ID, Section: "A", ScheduledStart: start, ScheduledEnd: start.Add(time.Hour)}
	require.NoError(t, s.CreateSession(ctx, &e.session))
	return e
}

func TestDetectTwiceReportsAlreadyMarked(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	first, err := e.recorder.DetectAndMark(ctx, e.session.ID, "CS001", "")
	require.NoError(t, err)
	assert.False(t, first.AlreadyMarked)
	assert.Equal(t, "Mohammad Zaid", first.Student.Name)
	assert.Equal(t, model.StatusPresent, first.Record.Status)
	assert.Equal(t, model.MarkedBySystem, first.Record.MarkedBy)
	assert.Equal(t, model.MethodFacialRecognition, first.Record.Method)
	assert.NotNil(t, first.Record.MarkedAt)

	second, err := e.recorder.DetectAndMark(ctx, e.session.ID, "CS001", model.MethodQRCode)
	require.NoError(t, err)
	assert.True(t, second.AlreadyMarked)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, model.StatusPresent, second.Record.Status)
	assert.Equal(t, model.MethodFacialRecognition, second.Record.Method, "existing record is not mutated")

	recs, err := e.recorder.SessionRecords(ctx, e.session.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Marks.WithLabelValues("facial_recognition", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Marks.WithLabelValues("qr_code", "already_marked")))

	logs, err := e.store.ListLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, audit.ActionKioskDetect, logs[0].Action)
	assert.Equal(t, audit.ActionAttendanceMark, logs[1].Action)
}

func TestDetectUnknownStudentCreatesNothing(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	_, err := e.recorder.DetectAndMark(ctx, e.session.ID, "XX999", "")
	assert.ErrorIs(t, err, ErrStudentNotFound)

	recs, err := e.recorder.SessionRecords(ctx, e.session.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDetectValidation(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	_, err := e.recorder.DetectAndMark(ctx, e.session.ID, "CS001", model.Method("telepathy"))
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = e.recorder.DetectAndMark(ctx, e.session.ID, "", "")
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = e.recorder.DetectAndMark(ctx, "missing", "CS001", "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConcurrentDetectionsKeepOneRecord(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	const workers = 24
	results := make([]Result, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.recorder.DetectAndMark(ctx, e.session.ID, "CS001", "")
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range results {
		require.NoError(t, errs[i])
		if !results[i].AlreadyMarked {
			created++
		}
	}
	assert.Equal(t, 1, created)

	recs, err := e.recorder.SessionRecords(ctx, e.session.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestManualMarkUpsertsInPlace(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	rec, created, err := e.recorder.MarkManual(ctx, ManualMark{SessionID: e.session.ID, StudentID: e.student.ID, Status: model.StatusLate})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.StatusLate, rec.Status)
	assert.Equal(t, model.MarkedByFaculty, rec.MarkedBy)
	assert.Equal(t, model.MethodManual, rec.Method)

	upd, created, err := e.recorder.MarkManual(ctx, ManualMark{SessionID: e.session.ID, StudentID: e.student.ID, Status: model.StatusAbsent})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec.ID, upd.ID)
	assert.Equal(t, model.StatusAbsent, upd.Status)

	recs, err := e.recorder.SessionRecords(ctx, e.session.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	logs, err := e.store.ListLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, audit.ActionAttendanceUpdate, logs[0].Action)
	assert.Equal(t, "late -> absent", logs[0].Details)
}

func TestManualMarkAfterDetection(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	_, err := e.recorder.DetectAndMark(ctx, e.session.ID, "CS001", "")
	require.NoError(t, err)
	rec, created, err := e.recorder.MarkManual(ctx, ManualMark{SessionID: e.session.ID, StudentID: e.student.ID, Status: model.StatusLate})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, model.StatusLate, rec.Status)
	assert.Equal(t, model.MethodManual, rec.Method)
}

func TestManualMarkRejectsBadInput(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	_, _, err := e.recorder.MarkManual(ctx, ManualMark{SessionID: e.session.ID, StudentID: e.student.ID})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, _, err = e.recorder.MarkManual(ctx, ManualMark{SessionID: e.session.ID, StudentID: e.student.ID, Status: "maybe"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, _, err = e.recorder.MarkManual(ctx, ManualMark{SessionID: e.session.ID, StudentID: "ghost", Status: model.StatusPresent})
	assert.ErrorIs(t, err, ErrStudentNotFound)
	_, _, err = e.recorder.MarkManual(ctx, ManualMark{SessionID: "ghost", StudentID: e.student.ID, Status: model.StatusPresent})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConcurrentManualMarksKeepOneRecord(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	statuses := []model.AttendanceStatus{model.StatusPresent, model.StatusLate, model.StatusAbsent}
	var wg sync.WaitGroup
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func(st model.AttendanceStatus) {
			defer wg.Done()
			_, _, err := e.recorder.MarkManual(ctx, ManualMark{SessionID: e.session.ID, StudentID: e.student.ID, Status: st})
			assert.NoError(t, err)
		}(statuses[i%len(statuses)])
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.recorder.DetectAndMark(ctx, e.session.ID, "CS001", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	recs, err := e.recorder.SessionRecords(ctx, e.session.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestDetectImageFlagsProxy(t *testing.T) {
	e := newEnv(t, fakeDetector{detection: faceclient.Detection{Identifier: "CS001", Live: false}})

	res, err := e.recorder.DetectImage(context.Background(), e.session.ID, "https://img/1.jpg", "")
	require.NoError(t, err)
	assert.True(t, res.Record.IsProxy)
	assert.Equal(t, "Mohammad Zaid", res.Student.Name)
}

func TestDetectImageNoMatch(t *testing.T) {
	e := newEnv(t, fakeDetector{err: faceclient.ErrNoMatch})
	_, err := e.recorder.DetectImage(context.Background(), e.session.ID, "https://img/1.jpg", "")
	assert.ErrorIs(t, err, ErrStudentNotFound)
}

func TestDetectImageServiceFailure(t *testing.T) {
	e := newEnv(t, fakeDetector{err: errors.New("connection refused")})
	_, err := e.recorder.DetectImage(context.Background(), e.session.ID, "https://img/1.jpg", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStudentNotFound)
}

func TestDetectImageWithoutDetector(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.recorder.DetectImage(context.Background(), e.session.ID, "https://img/1.jpg", "")
	assert.ErrorIs(t, err, model.ErrValidation)
}
