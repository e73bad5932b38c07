package engine_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aethra/civicdesk/internal/engine"
	apperrors "github.com/aethra/civicdesk/internal/errors"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/aethra/civicdesk/internal/storage"
	"github.com/aethra/civicdesk/internal/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fixture is a database with one sector, a citizen, an admin and a water type with one option
type fixture struct {
	db     *gorm.DB
	store  *storage.LocalStore
	sector *models.SubSector
	user   *models.User
	admin  *models.User
	rt     *models.RequestType
	opt    *models.ServiceOption
	now    time.Time
	eng    *engine.RequestEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	store, err := storage.NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	f := &fixture{
		db:     db,
		store:  store,
		sector: testutil.CreateSubSector(t, db, "A"),
		now:    time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC),
	}
	f.user = testutil.CreateUser(t, db, f.sector, models.RoleUser)
	f.admin = testutil.CreateUser(t, db, f.sector, models.RoleAdmin)
	f.rt = testutil.CreateRequestType(t, db, "Water", "water")
	f.opt = testutil.CreateOption(t, db, f.rt, "Order water", models.OptionConfig{})
	f.eng = engine.NewRequestEngine(db, store, karachi(t), testutil.NewLogger()).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) submission() engine.Submission {
	return engine.Submission{
		RequestTypeID:       f.rt.ID,
		RequestTypeOptionID: f.opt.ID,
		HouseNo:             "12",
		StreetNo:            "4",
		SubSectorID:         f.sector.ID,
	}
}

func (f *fixture) counter(t *testing.T) int {
	t.Helper()
	var opt models.ServiceOption
	require.NoError(t, f.db.First(&opt, f.opt.ID).Error)
	return opt.RequestNumberNext
}

func (f *fixture) requestCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Request{}).Count(&n).Error)
	return n
}

func TestSubmit_AllocatesSequentialNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.eng.Submit(ctx, f.submission(), f.user)
	require.NoError(t, err)
	assert.Equal(t, "ORDERW#0001", *first.RequestNumber)
	assert.Equal(t, models.StatusPending, first.Status)
	assert.Equal(t, f.user.ID, first.UserID)
	assert.True(t, first.CreatedAt.Equal(f.now))

	second, err := f.eng.Submit(ctx, f.submission(), f.user)
	require.NoError(t, err)
	assert.Equal(t, "ORDERW#0002", *second.RequestNumber)
	assert.Equal(t, 3, f.counter(t))
}

func TestSubmit_ConfiguredPrefixAndPadding(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&models.ServiceOption{}).Where("id = ?", f.opt.ID).
		Updates(map[string]interface{}{"request_number_prefix": "wt", "request_number_padding": 6, "request_number_next": 41}).Error)

	req, err := f.eng.Submit(context.Background(), f.submission(), f.user)
	require.NoError(t, err)
	assert.Equal(t, "WT#000041", *req.RequestNumber)
	assert.Equal(t, 42, f.counter(t))
}

func TestSubmit_ConcurrentNumbersAreUnique(t *testing.T) {
	f := newFixture(t)
	const workers = 12

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]bool)
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := f.eng.Submit(context.Background(), f.submission(), f.user)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers[*req.RequestNumber] = true
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, numbers, workers)
	for i := 1; i <= workers; i++ {
		assert.True(t, numbers[engine.FormatRequestNumber("ORDERW", i, 4)], "missing number %d", i)
	}
	assert.Equal(t, workers+1, f.counter(t))
}

func TestSubmit_RejectionsLeaveCounterUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := testutil.CreateRequestType(t, f.db, "Garbage", "garbage")
	foreign := testutil.CreateOption(t, f.db, other, "Pickup", models.OptionConfig{})

	tests := []struct {
		name    string
		mutate  func(*engine.Submission)
		kind    apperrors.Kind
		message string
		status  int
	}{
		{"unknown type", func(s *engine.Submission) { s.RequestTypeID = 999 },
			apperrors.KindInvalidRequestType, "Invalid request type", http.StatusForbidden},
		{"unknown sector", func(s *engine.Submission) { s.SubSectorID = 999 },
			apperrors.KindInvalidSubSector, "Invalid sub sector", http.StatusConflict},
		{"option of another type", func(s *engine.Submission) { s.RequestTypeOptionID = foreign.ID },
			apperrors.KindInvalidServiceOption, "Invalid service option selected", http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := f.submission()
			tt.mutate(&sub)
			_, err := f.eng.Submit(ctx, sub, f.user)
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, tt.kind), "got %v", err)
			assert.Equal(t, tt.message, err.Error())
			status, _ := apperrors.ToHTTPError(err)
			assert.Equal(t, tt.status, status)
		})
	}

	assert.Equal(t, 1, f.counter(t))
	assert.Zero(t, f.requestCount(t))
}

func TestSubmit_OutsideWindow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(f.rt).Updates(map[string]interface{}{
		"restriction_start_time": "09:00",
		"restriction_end_time":   "17:00",
		"restriction_days":       "1,2,3,4,5",
	}).Error)

	// Monday 08:59:59 in Karachi
	f.now = time.Date(2026, 10, 19, 3, 59, 59, 0, time.UTC)
	_, err := f.eng.Submit(context.Background(), f.submission(), f.user)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindOutsideSubmissionWindow))
	assert.Equal(t, "Water request window: allowed only between 09:00 and 17:00.", err.Error())
	assert.Equal(t, 1, f.counter(t))

	f.now = time.Date(2026, 10, 19, 4, 0, 0, 0, time.UTC)
	req, err := f.eng.Submit(context.Background(), f.submission(), f.user)
	require.NoError(t, err)
	assert.Equal(t, "ORDERW#0001", *req.RequestNumber)
}

// warnings returns the "fields" of every warning logged through hook
func warnings(hook *logtest.Hook) [][]string {
	var out [][]string
	for _, entry := range hook.AllEntries() {
		if entry.Level != logrus.WarnLevel {
			continue
		}
		if fields, ok := entry.Data["fields"].([]string); ok {
			out = append(out, fields)
		}
	}
	return out
}

func TestSubmit_UnreadableRestrictionDays(t *testing.T) {
	f := newFixture(t)
	logger, hook := logtest.NewNullLogger()
	eng := engine.NewRequestEngine(f.db, f.store, karachi(t), logger).
		WithClock(func() time.Time { return f.now })
	ctx := context.Background()

	require.NoError(t, f.db.Exec("UPDATE request_types SET restriction_days = ? WHERE id = ?", "Mon,Tue", f.rt.ID).Error)

	_, err := eng.Submit(ctx, f.submission(), f.user)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindOutsideSubmissionWindow))
	assert.Equal(t, "Water request window: no valid submission days are configured.", err.Error())
	assert.Equal(t, 1, f.counter(t))
	assert.Equal(t, [][]string{{"restrictionDays"}}, warnings(hook))

	types, err := engine.NewCatalogEngine(f.db, f.store, testutil.NewLogger()).ListTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)

	// Monday still matches when only some entries are unreadable
	require.NoError(t, f.db.Exec("UPDATE request_types SET restriction_days = ? WHERE id = ?", "1,2,7", f.rt.ID).Error)
	req, err := eng.Submit(ctx, f.submission(), f.user)
	require.NoError(t, err)
	assert.Equal(t, "ORDERW#0001", *req.RequestNumber)
}

func TestSubmit_UnreadableWindowTimeIsLogged(t *testing.T) {
	f := newFixture(t)
	logger, hook := logtest.NewNullLogger()
	eng := engine.NewRequestEngine(f.db, f.store, karachi(t), logger).
		WithClock(func() time.Time { return f.now })

	require.NoError(t, f.db.Exec("UPDATE request_types SET restriction_start_time = ?, restriction_end_time = ? WHERE id = ?",
		"9am", "17:00", f.rt.ID).Error)

	// 11:00 in Karachi; only the readable end bound applies
	_, err := eng.Submit(context.Background(), f.submission(), f.user)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"restrictionStartTime"}}, warnings(hook))
}

func TestSubmit_DuplicateWithinPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.Model(f.rt).Update("duplicate_restriction_period", "day").Error)

	_, err := f.eng.Submit(ctx, f.submission(), f.user)
	require.NoError(t, err)

	f.now = f.now.Add(3 * time.Hour)
	_, err = f.eng.Submit(ctx, f.submission(), f.user)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindDuplicateInPeriod))
	assert.Equal(t,
		"Only one Order water request per calendar day is allowed for the same house, street and sector. "+
			"There is already a request for this address in this calendar day.",
		err.Error())
	assert.Equal(t, 2, f.counter(t))

	neighbour := f.submission()
	neighbour.HouseNo = "13"
	_, err = f.eng.Submit(ctx, neighbour, f.user)
	require.NoError(t, err)

	f.now = time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	req, err := f.eng.Submit(ctx, f.submission(), f.user)
	require.NoError(t, err)
	assert.Equal(t, "ORDERW#0003", *req.RequestNumber)
}

func TestSubmit_SkipsNumbersTakenByLegacyRows(t *testing.T) {
	f := newFixture(t)
	legacy := "ORDERW#0001"
	require.NoError(t, f.db.Create(&models.Request{
		RequestTypeID: f.rt.ID,
		RequestNumber: &legacy,
		HouseNo:       "1",
		StreetNo:      "1",
		SubSectorID:   f.sector.ID,
		Status:        models.StatusDone,
		UserID:        f.user.ID,
	}).Error)

	req, err := f.eng.Submit(context.Background(), f.submission(), f.user)
	require.NoError(t, err)
	assert.Equal(t, "ORDERW#0002", *req.RequestNumber)
	assert.Equal(t, 3, f.counter(t))
}

func TestSubmit_IssueImageRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.opt = testutil.CreateOption(t, f.db, f.rt, "Report leak", models.OptionConfig{IssueImage: models.ImageRequired})

	_, err := f.eng.Submit(ctx, f.submission(), f.user)
	assert.True(t, apperrors.IsKind(err, apperrors.KindImageRequired))
	assert.Equal(t, "Please upload an issue image for this service", err.Error())

	sub := f.submission()
	sub.Image = &storage.File{Filename: "big.png", ContentType: "image/png", Data: make([]byte, 5<<20+1)}
	_, err = f.eng.Submit(ctx, sub, f.user)
	assert.True(t, apperrors.IsKind(err, apperrors.KindImageTooLarge))
	assert.Equal(t, "Issue image too large (max 5MB)", err.Error())

	sub.Image = &storage.File{Filename: "notes.txt", ContentType: "text/plain", Data: []byte("hello")}
	_, err = f.eng.Submit(ctx, sub, f.user)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnsupportedImageType))
	assert.Equal(t, 1, f.counter(t))
	assert.Zero(t, f.requestCount(t))

	sub.Image = &storage.File{Filename: "leak.png", ContentType: "image/png", Data: []byte("png-bytes")}
	req, err := f.eng.Submit(ctx, sub, f.user)
	require.NoError(t, err)
	assert.Equal(t, "REPORTL#0001", *req.RequestNumber)
	require.NotNil(t, req.IssueImageURL)
	assert.True(t, strings.HasPrefix(*req.IssueImageURL, "/uploads/request-images/"), *req.IssueImageURL)
	assert.True(t, strings.HasSuffix(*req.IssueImageURL, ".png"))
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("disk full")
}

func (failingStore) Delete(context.Context, string) error { return nil }

func TestSubmit_StorageFailure(t *testing.T) {
	f := newFixture(t)
	eng := engine.NewRequestEngine(f.db, failingStore{}, karachi(t), testutil.NewLogger())

	sub := f.submission()
	sub.Image = &storage.File{Filename: "leak.png", ContentType: "image/png", Data: []byte("png")}
	_, err := eng.Submit(context.Background(), sub, f.user)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindStorageFailure))
	status, body := apperrors.ToHTTPError(err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.NotContains(t, body["message"], "disk full")
	assert.Equal(t, 1, f.counter(t))
}

func TestSubmit_ValidatesShape(t *testing.T) {
	f := newFixture(t)
	sub := f.submission()
	sub.Description = "too short"
	_, err := f.eng.Submit(context.Background(), sub, f.user)
	var validation *apperrors.ValidationError
	require.ErrorAs(t, err, &validation)

	sub = f.submission()
	sub.HouseNo = "   "
	_, err = f.eng.Submit(context.Background(), sub, f.user)
	require.ErrorAs(t, err, &validation)
}

func seedStatuses(t *testing.T, f *fixture, statuses ...models.RequestStatus) []models.Request {
	t.Helper()
	var out []models.Request
	for _, status := range statuses {
		req, err := f.eng.Submit(context.Background(), f.submission(), f.user)
		require.NoError(t, err)
		require.NoError(t, f.db.Model(req).Update("status", status).Error)
		req.Status = status
		out = append(out, *req)
	}
	return out
}

func TestList_CompletedIncludesDone(t *testing.T) {
	f := newFixture(t)
	seedStatuses(t, f, models.StatusPending, models.StatusCompleted, models.StatusDone, models.StatusCancelled)
	ctx := context.Background()

	res, err := f.eng.List(ctx, f.admin, engine.ListQuery{Status: "completed"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)
	assert.Len(t, res.Data, 2)

	all, err := f.eng.List(ctx, f.admin, engine.ListQuery{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, all.Total)
	require.NotNil(t, all.Data[0].RequestType)
	assert.Equal(t, "Water", all.Data[0].RequestType.Name)

	end := 3
	page, err := f.eng.List(ctx, f.admin, engine.ListQuery{Start: 1, End: &end, Sort: "requestNumber", Order: "ASC"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, page.Total)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "ORDERW#0002", *page.Data[0].RequestNumber)

	found, err := f.eng.List(ctx, f.admin, engine.ListQuery{Search: "#0003"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, found.Total)

	_, err = f.eng.List(ctx, f.admin, engine.ListQuery{Status: "archived"})
	assert.Error(t, err)

	_, err = f.eng.List(ctx, f.user, engine.ListQuery{})
	var denied *apperrors.PermissionDeniedError
	assert.ErrorAs(t, err, &denied)
}

func TestList_DateRangeIsInclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.eng.Submit(ctx, f.submission(), f.user)
	require.NoError(t, err)
	f.now = time.Date(2026, 10, 21, 23, 59, 0, 0, time.UTC)
	_, err = f.eng.Submit(ctx, f.submission(), f.user)
	require.NoError(t, err)

	res, err := f.eng.List(ctx, f.admin, engine.ListQuery{DateFrom: "2026-10-20", DateTo: "2026-10-21"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Total)

	_, err = f.eng.List(ctx, f.admin, engine.ListQuery{DateFrom: "21/10/2026"})
	assert.Error(t, err)
}

func TestGet_OwnerOrAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.eng.Submit(ctx, f.submission(), f.user)
	require.NoError(t, err)

	got, err := f.eng.Get(ctx, req.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)

	_, err = f.eng.Get(ctx, req.ID, f.admin)
	require.NoError(t, err)

	stranger := testutil.CreateUser(t, f.db, f.sector, models.RoleUser)
	_, err = f.eng.Get(ctx, req.ID, stranger)
	require.EqualError(t, err, "Cannot view this request")

	_, err = f.eng.Get(ctx, 999, f.admin)
	var nf *apperrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Request not found", nf.Message)

	mine, err := f.eng.FindMy(ctx, f.user)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	mine, err = f.eng.FindMy(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestUpdate_RevalidatesReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.eng.Submit(ctx, f.submission(), f.user)
	require.NoError(t, err)

	other := testutil.CreateRequestType(t, f.db, "Garbage", "garbage")
	foreign := testutil.CreateOption(t, f.db, other, "Pickup", models.OptionConfig{})

	_, err = f.eng.Update(ctx, req.ID, engine.RequestUpdate{
		RequestTypeOptionID: engine.OptionalID{Set: true, Value: &foreign.ID},
	}, f.admin)
	require.EqualError(t, err, "Invalid service option")

	missing := uint(999)
	_, err = f.eng.Update(ctx, req.ID, engine.RequestUpdate{SubSectorID: &missing}, f.admin)
	require.EqualError(t, err, "Invalid sub sector")

	house := " 77 "
	done := models.StatusDone
	updated, err := f.eng.Update(ctx, req.ID, engine.RequestUpdate{
		RequestTypeID:       &other.ID,
		RequestTypeOptionID: engine.OptionalID{Set: true, Value: &foreign.ID},
		HouseNo:             &house,
		Status:              &done,
	}, f.admin)
	require.NoError(t, err)
	assert.Equal(t, other.ID, updated.RequestTypeID)
	assert.Equal(t, "77", updated.HouseNo)
	assert.Equal(t, "ORDERW#0001", *updated.RequestNumber)

	cleared, err := f.eng.Update(ctx, req.ID, engine.RequestUpdate{RequestTypeOptionID: engine.OptionalID{Set: true}}, f.admin)
	require.NoError(t, err)
	assert.Nil(t, cleared.RequestTypeOptionID)

	_, err = f.eng.Update(ctx, req.ID, engine.RequestUpdate{HouseNo: &house}, f.user)
	assert.EqualError(t, err, "Admin only")
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.eng.Submit(ctx, f.submission(), f.user)
	require.NoError(t, err)

	updated, err := f.eng.UpdateStatus(ctx, req.ID, models.StatusInProgress, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, updated.Status)

	_, err = f.eng.UpdateStatus(ctx, req.ID, "archived", f.admin)
	assert.Error(t, err)
	_, err = f.eng.UpdateStatus(ctx, req.ID, models.StatusCompleted, f.user)
	assert.Error(t, err)
}

func TestRemove_OwnerOrAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submission()
	sub.Image = &storage.File{Filename: "leak.png", ContentType: "image/png", Data: []byte("png")}
	req, err := f.eng.Submit(ctx, sub, f.user)
	require.NoError(t, err)

	stranger := testutil.CreateUser(t, f.db, f.sector, models.RoleUser)
	err = f.eng.Remove(ctx, req.ID, stranger)
	require.EqualError(t, err, "Cannot delete this request")

	require.NoError(t, f.eng.Remove(ctx, req.ID, f.user))
	assert.Zero(t, f.requestCount(t))
	assert.NoFileExists(t, f.store.Root()+strings.TrimPrefix(*req.IssueImageURL, "/uploads"))
}
