package api_test

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/aethra/civicdesk/internal/api"
	"github.com/aethra/civicdesk/internal/auth"
	"github.com/aethra/civicdesk/internal/config"
	"github.com/aethra/civicdesk/internal/engine"
	"github.com/aethra/civicdesk/internal/models"
	"github.com/aethra/civicdesk/internal/storage"
	"github.com/aethra/civicdesk/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// server is the full HTTP stack over an in-memory database
type server struct {
	router *gin.Engine
	db     *gorm.DB
	jwt    *auth.JWTService
	sector *models.SubSector
	user   *models.User
	admin  *models.User
	rt     *models.RequestType
	opt    *models.ServiceOption
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewTestDB(t)
	store, err := storage.NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)
	logger := testutil.NewLogger()
	loc, err := time.LoadLocation("Asia/Karachi")
	require.NoError(t, err)

	users := engine.NewUserEngine(db, store, false, logger)
	engines := api.Engines{
		Requests:   engine.NewRequestEngine(db, store, loc, logger),
		Catalog:    engine.NewCatalogEngine(db, store, logger),
		Users:      users,
		SubSectors: engine.NewSubSectorEngine(db, logger),
		Bulletins:  engine.NewBulletinEngine(db, store, loc, logger),
		Reports:    engine.NewReportEngine(db, logger),
	}
	jwtService := auth.NewJWTService(config.AuthConfig{JWTSecret: "test-secret"}, logger)
	limiter := api.NewLoginRateLimiter()
	t.Cleanup(limiter.Close)

	router, err := api.SetupRouter(
		api.RouterConfig{UploadsDir: store.Root(), UploadsPrefix: store.PublicPrefix()},
		api.NewHandler(engines, jwtService, logger),
		api.NewAdminHandler(users, engines.SubSectors, logger),
		api.NewAuthHandler(users, jwtService, limiter, logger),
		logger,
	)
	require.NoError(t, err)

	s := &server{router: router, db: db, jwt: jwtService}
	s.sector = testutil.CreateSubSector(t, db, "A")
	s.user = testutil.CreateUser(t, db, s.sector, models.RoleUser)
	s.admin = testutil.CreateUser(t, db, s.sector, models.RoleAdmin)
	s.rt = testutil.CreateRequestType(t, db, "Water", "water")
	s.opt = testutil.CreateOption(t, db, s.rt, "Order water", models.OptionConfig{})
	return s
}

func (s *server) token(t *testing.T, user *models.User) map[string]string {
	t.Helper()
	pair, err := s.jwt.GenerateTokenPair(user)
	require.NoError(t, err)
	return testutil.BearerHeader(pair.AccessToken)
}

func (s *server) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type upload struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func multipartRequest(t *testing.T, method, path string, fields map[string]string, file *upload, headers map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.field, file.filename))
		h.Set("Content-Type", file.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	testutil.DecodeJSON(t, rec, &body)
	return body
}

// =============================================================================
// HEALTH & MIDDLEWARE
// =============================================================================

func TestHealth(t *testing.T) {
	s := newServer(t)
	for _, path := range []string{"/health", "/api/health"} {
		rec := s.do(testutil.MakeRequest(http.MethodGet, path, nil, nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		testutil.DecodeJSON(t, rec, &body)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "civicdesk", body["service"])
	}
}

func TestAuthMiddleware(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		name    string
		headers map[string]string
		path    string
		status  int
		message string
	}{
		{"no token", nil, "/requests/my", http.StatusUnauthorized, "authentication required"},
		{"garbage token", testutil.BearerHeader("not-a-jwt"), "/requests/my", http.StatusUnauthorized, "invalid or expired token"},
		{"citizen on admin route", s.token(t, s.user), "/requests", http.StatusForbidden, "Admin only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(testutil.MakeRequest(http.MethodGet, tt.path, nil, tt.headers))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.message, decodeError(t, rec).Message)
		})
	}

	refresh, err := s.jwt.GenerateTokenPair(s.user)
	require.NoError(t, err)
	rec := s.do(testutil.MakeRequest(http.MethodGet, "/requests/my", nil, testutil.BearerHeader(refresh.RefreshToken)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuth_RegisterApproveLogin(t *testing.T) {
	s := newServer(t)

	rec := s.do(testutil.MakeRequest(http.MethodPost, "/auth/register", map[string]interface{}{
		"fullName":         "Amina Khan",
		"email":            "amina@example.com",
		"password":         "hunter22",
		"phoneCountryCode": "+92",
		"phoneNumber":      "3001234567",
		"houseNo":          "7",
		"streetNo":         "2",
		"subSectorId":      s.sector.ID,
	}, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var registered models.User
	testutil.DecodeJSON(t, rec, &registered)
	assert.Equal(t, models.ApprovalPending, registered.ApprovalStatus)
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	credentials := map[string]string{"email": "amina@example.com", "password": "hunter22"}
	rec = s.do(testutil.MakeRequest(http.MethodPost, "/auth/login", credentials, nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Your registration is not yet approved", decodeError(t, rec).Message)

	rec = s.do(testutil.MakeRequest(http.MethodPatch, fmt.Sprintf("/users/%d/approve", registered.ID), nil, s.token(t, s.admin)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(testutil.MakeRequest(http.MethodPost, "/auth/login", credentials, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tokens api.TokenResponse
	testutil.DecodeJSON(t, rec, &tokens)
	assert.Equal(t, "Bearer", tokens.TokenType)
	require.NotEmpty(t, tokens.AccessToken)

	rec = s.do(testutil.MakeRequest(http.MethodGet, "/auth/me", nil, testutil.BearerHeader(tokens.AccessToken)))
	require.Equal(t, http.StatusOK, rec.Code)
	var me models.User
	testutil.DecodeJSON(t, rec, &me)
	assert.Equal(t, "amina@example.com", me.Email)

	rec = s.do(testutil.MakeRequest(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": tokens.RefreshToken}, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(testutil.MakeRequest(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": tokens.AccessToken}, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_RoleSpecificLogin(t *testing.T) {
	s := newServer(t)

	rec := s.do(testutil.MakeRequest(http.MethodPost, "/auth/login",
		map[string]string{"email": s.admin.Email, "password": testutil.TestPassword}, nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "App access only for user role", decodeError(t, rec).Message)

	rec = s.do(testutil.MakeRequest(http.MethodPost, "/auth/admin-login",
		map[string]string{"email": s.user.Email, "password": testutil.TestPassword}, nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Admin access only", decodeError(t, rec).Message)

	rec = s.do(testutil.MakeRequest(http.MethodPost, "/auth/admin-login",
		map[string]string{"email": s.admin.Email, "password": testutil.TestPassword}, nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAuth_LoginRateLimited(t *testing.T) {
	s := newServer(t)
	wrong := map[string]string{"email": s.user.Email, "password": "wrong-password"}

	for i := 0; i < 5; i++ {
		rec := s.do(testutil.MakeRequest(http.MethodPost, "/auth/login", wrong, nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	rec := s.do(testutil.MakeRequest(http.MethodPost, "/auth/login",
		map[string]string{"email": s.user.Email, "password": testutil.TestPassword}, nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
}

func TestAuth_BindingErrors(t *testing.T) {
	s := newServer(t)

	rec := s.do(testutil.MakeRequest(http.MethodPost, "/auth/login", map[string]string{"email": "nope", "password": "x"}, nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email must be an email", decodeError(t, rec).Message)

	rec = s.do(testutil.MakeRequest(http.MethodPost, "/auth/login", nil, nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email is required", decodeError(t, rec).Message)
}

// =============================================================================
// REQUESTS
// =============================================================================

func TestRequests_SubmitMultipartWithImage(t *testing.T) {
	s := newServer(t)

	req := multipartRequest(t, http.MethodPost, "/requests", map[string]string{
		"requestTypeId":       fmt.Sprint(s.rt.ID),
		"requestTypeOptionId": fmt.Sprint(s.opt.ID),
		"houseNo":             "12",
		"streetNo":            "4",
		"subSectorId":         fmt.Sprint(s.sector.ID),
		"description":         "No water since yesterday",
	}, &upload{field: "issueImage", filename: "leak.png", contentType: "image/png", data: pngBytes}, s.token(t, s.user))

	rec := s.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Request
	testutil.DecodeJSON(t, rec, &created)
	require.NotNil(t, created.RequestNumber)
	assert.Equal(t, "ORDERW#0001", *created.RequestNumber)
	require.NotNil(t, created.IssueImageURL)

	rec = s.do(testutil.MakeRequest(http.MethodGet, *created.IssueImageURL, nil, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pngBytes, rec.Body.Bytes())
}

func TestRequests_SubmitJSON(t *testing.T) {
	s := newServer(t)
	body := map[string]interface{}{
		"requestTypeId":       s.rt.ID,
		"requestTypeOptionId": s.opt.ID,
		"houseNo":             "12",
		"streetNo":            "4",
		"subSectorId":         s.sector.ID,
	}

	rec := s.do(testutil.MakeRequest(http.MethodPost, "/requests", body, s.token(t, s.user)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body["issueImage"] = "data:image/png;base64,%%%"
	rec = s.do(testutil.MakeRequest(http.MethodPost, "/requests", body, s.token(t, s.user)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid image data URL", decodeError(t, rec).Message)

	body["requestTypeOptionId"] = 999
	delete(body, "issueImage")
	rec = s.do(testutil.MakeRequest(http.MethodPost, "/requests", body, s.token(t, s.user)))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Invalid service option selected", decodeError(t, rec).Message)
}

func TestRequests_PendingUserCannotSubmit(t *testing.T) {
	s := newServer(t)
	require.NoError(t, s.db.Model(s.user).Update("approval_status", models.ApprovalPending).Error)

	rec := s.do(testutil.MakeRequest(http.MethodPost, "/requests", map[string]interface{}{
		"requestTypeId": s.rt.ID, "requestTypeOptionId": s.opt.ID, "houseNo": "1", "streetNo": "1", "subSectorId": s.sector.ID,
	}, s.token(t, s.user)))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Your registration is not yet approved", decodeError(t, rec).Message)
}

func TestRequests_AdminListAndStatus(t *testing.T) {
	s := newServer(t)
	body := map[string]interface{}{
		"requestTypeId": s.rt.ID, "requestTypeOptionId": s.opt.ID, "houseNo": "12", "streetNo": "4", "subSectorId": s.sector.ID,
	}
	var first models.Request
	for i := 0; i < 2; i++ {
		rec := s.do(testutil.MakeRequest(http.MethodPost, "/requests", body, s.token(t, s.user)))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		if i == 0 {
			testutil.DecodeJSON(t, rec, &first)
		}
	}
	admin := s.token(t, s.admin)

	rec := s.do(testutil.MakeRequest(http.MethodGet, "/requests?_start=0&_end=1&_sort=id&_order=ASC", nil, admin))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2", rec.Header().Get("X-Total-Count"))
	var page []models.Request
	testutil.DecodeJSON(t, rec, &page)
	require.Len(t, page, 1)
	assert.Equal(t, first.ID, page[0].ID)

	rec = s.do(testutil.MakeRequest(http.MethodGet, "/requests?requestTypeId=abc", nil, admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	statusPath := fmt.Sprintf("/requests/%d/status", first.ID)
	rec = s.do(testutil.MakeRequest(http.MethodPatch, statusPath, map[string]string{"status": "completed"}, admin))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated models.Request
	testutil.DecodeJSON(t, rec, &updated)
	assert.Equal(t, models.StatusCompleted, updated.Status)

	rec = s.do(testutil.MakeRequest(http.MethodPatch, statusPath, map[string]string{"status": "lost"}, admin))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "status must be one of: pending, cancelled, in_progress, completed, done", decodeError(t, rec).Message)

	rec = s.do(testutil.MakeRequest(http.MethodGet, "/requests/stats/summary", nil, admin))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats engine.StatsSummary
	testutil.DecodeJSON(t, rec, &stats)
	assert.EqualValues(t, 2, stats.Total)

	rec = s.do(testutil.MakeRequest(http.MethodGet, "/requests/stats/daily?days=3", nil, admin))
	require.Equal(t, http.StatusOK, rec.Code)
	var daily []engine.DailyCount
	testutil.DecodeJSON(t, rec, &daily)
	assert.Len(t, daily, 3)

	rec = s.do(testutil.MakeRequest(http.MethodGet, "/requests/reports/dashboard?period=week", nil, admin))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRequests_OwnershipOnGetAndDelete(t *testing.T) {
	s := newServer(t)
	other := testutil.CreateUser(t, s.db, s.sector, models.RoleUser)

	rec := s.do(testutil.MakeRequest(http.MethodPost, "/requests", map[string]interface{}{
		"requestTypeId": s.rt.ID, "requestTypeOptionId": s.opt.ID, "houseNo": "12", "streetNo": "4", "subSectorId": s.sector.ID,
	}, s.token(t, s.user)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Request
	testutil.DecodeJSON(t, rec, &created)
	path := fmt.Sprintf("/requests/%d", created.ID)

	rec = s.do(testutil.MakeRequest(http.MethodGet, path, nil, s.token(t, other)))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Cannot view this request", decodeError(t, rec).Message)

	rec = s.do(testutil.MakeRequest(http.MethodGet, "/requests/my", nil, s.token(t, other)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = s.do(testutil.MakeRequest(http.MethodDelete, path, nil, s.token(t, s.user)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(testutil.MakeRequest(http.MethodGet, "/requests/abc", nil, s.token(t, s.user)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog_RequestTypeValidation(t *testing.T) {
	s := newServer(t)
	admin := s.token(t, s.admin)

	tests := []struct {
		name    string
		body    map[string]interface{}
		message string
	}{
		{"bad time", map[string]interface{}{"name": "Gas", "slug": "gas", "restrictionStartTime": "25:00"}, "restrictionStartTime must be in HH:mm format"},
		{"bad days", map[string]interface{}{"name": "Gas", "slug": "gas", "restrictionDays": "1,9"}, "restrictionDays must be comma-separated weekdays 0-6"},
		{"bad period", map[string]interface{}{"name": "Gas", "slug": "gas", "duplicateRestrictionPeriod": "year"}, "duplicateRestrictionPeriod must be one of: none, day, week, month"},
		{"missing slug", map[string]interface{}{"name": "Gas"}, "slug is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(testutil.MakeRequest(http.MethodPost, "/request-types", tt.body, admin))
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.message, decodeError(t, rec).Message)
		})
	}

	rec := s.do(testutil.MakeRequest(http.MethodPost, "/request-types", map[string]interface{}{
		"name": "Gas", "slug": "gas", "restrictionStartTime": "9:00", "restrictionEndTime": "17:30", "restrictionDays": "1,2,3",
	}, admin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rt models.RequestType
	testutil.DecodeJSON(t, rec, &rt)
	require.NotNil(t, rt.RestrictionStartTime)
	assert.Equal(t, "09:00", *rt.RestrictionStartTime)

	rec = s.do(testutil.MakeRequest(http.MethodGet, "/request-types", nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var types []models.RequestType
	testutil.DecodeJSON(t, rec, &types)
	assert.Len(t, types, 2)
}

func TestCatalog_OptionsAndUploads(t *testing.T) {
	s := newServer(t)
	admin := s.token(t, s.admin)

	rec := s.do(testutil.MakeRequest(http.MethodGet,
		fmt.Sprintf("/request-type-options/by-request-type/%d", s.rt.ID), nil, s.token(t, s.user)))
	require.Equal(t, http.StatusOK, rec.Code)
	var options []models.ServiceOption
	testutil.DecodeJSON(t, rec, &options)
	require.Len(t, options, 1)
	assert.Equal(t, s.opt.ID, options[0].ID)

	rec = s.do(testutil.MakeRequest(http.MethodGet, "/request-type-options", nil, s.token(t, s.user)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(multipartRequest(t, http.MethodPost, "/request-types/upload-icon", nil,
		&upload{field: "file", filename: "drop.png", contentType: "image/png", data: pngBytes}, admin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var uploaded map[string]string
	testutil.DecodeJSON(t, rec, &uploaded)
	assert.Contains(t, uploaded["url"], "/uploads/request-type-icons/")

	rec = s.do(multipartRequest(t, http.MethodPost, "/request-type-options/upload-image", nil, nil, admin))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "file is required", decodeError(t, rec).Message)
}

// =============================================================================
// USERS & SUB-SECTORS
// =============================================================================

func TestUsers_AdminRoutes(t *testing.T) {
	s := newServer(t)
	admin := s.token(t, s.admin)

	rec := s.do(testutil.MakeRequest(http.MethodGet, "/users/sub-sectors", nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(testutil.MakeRequest(http.MethodGet, "/users", nil, admin))
	require.Equal(t, http.StatusOK, rec.Code)
	var users []models.User
	testutil.DecodeJSON(t, rec, &users)
	assert.Len(t, users, 2)

	rec = s.do(testutil.MakeRequest(http.MethodGet, fmt.Sprintf("/users/%d", s.admin.ID), nil, s.token(t, s.user)))
	require.Equal(t, http.StatusForbidden, rec.Code)

	name := "Bilal Ahmed"
	rec = s.do(testutil.MakeRequest(http.MethodPatch, "/users/me", map[string]string{"fullName": name}, s.token(t, s.user)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me models.User
	testutil.DecodeJSON(t, rec, &me)
	assert.Equal(t, name, me.FullName)

	rec = s.do(testutil.MakeRequest(http.MethodPost, "/sub-sectors", map[string]string{"name": "Block B", "code": "b"}, admin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sector models.SubSector
	testutil.DecodeJSON(t, rec, &sector)
	assert.Equal(t, "B", sector.Code)

	rec = s.do(testutil.MakeRequest(http.MethodDelete, fmt.Sprintf("/sub-sectors/%d", s.sector.ID), nil, admin))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(testutil.MakeRequest(http.MethodPatch, "/users/me/deactivate", nil, s.token(t, s.user)))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(testutil.MakeRequest(http.MethodPost, "/requests", map[string]interface{}{
		"requestTypeId": s.rt.ID, "requestTypeOptionId": s.opt.ID, "houseNo": "1", "streetNo": "1", "subSectorId": s.sector.ID,
	}, s.token(t, s.user)))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Account is deactivated", decodeError(t, rec).Message)
}

// =============================================================================
// DAILY BULLETIN
// =============================================================================

func TestBulletins_PublishAndFetch(t *testing.T) {
	s := newServer(t)
	admin := s.token(t, s.admin)

	rec := s.do(multipartRequest(t, http.MethodPost, "/daily-bulletin",
		map[string]string{"date": "2026-10-19", "title": "Tanker schedule"},
		&upload{field: "file", filename: "schedule.pdf", contentType: "application/pdf", data: []byte("%PDF-1.4")}, admin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(testutil.MakeRequest(http.MethodGet, "/daily-bulletin/by-date/2026-10-19", nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var bulletin models.DailyBulletin
	testutil.DecodeJSON(t, rec, &bulletin)
	assert.Equal(t, "Tanker schedule", bulletin.Title)
	assert.Equal(t, models.BulletinPDF, bulletin.FileType)

	rec = s.do(testutil.MakeRequest(http.MethodGet, bulletin.FilePath, nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4", rec.Body.String())

	rec = s.do(testutil.MakeRequest(http.MethodGet, "/daily-bulletin/by-date/2026-10-18", nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", rec.Body.String())

	rec = s.do(testutil.MakeRequest(http.MethodGet, "/daily-bulletin/by-date/yesterday", nil, nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(testutil.MakeRequest(http.MethodDelete, "/daily-bulletin/2026-10-19garbage", nil, admin))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(testutil.MakeRequest(http.MethodDelete, "/daily-bulletin/2026-10-19", nil, s.token(t, s.user)))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(testutil.MakeRequest(http.MethodDelete, "/daily-bulletin/2026-10-19", nil, admin))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(testutil.MakeRequest(http.MethodGet, bulletin.FilePath, nil, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
