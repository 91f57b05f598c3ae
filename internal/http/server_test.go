package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SruthiDharan/LMS-PROJECT/internal/auth"
	"github.com/SruthiDharan/LMS-PROJECT/internal/config"
	"github.com/SruthiDharan/LMS-PROJECT/internal/crypto"
	"github.com/SruthiDharan/LMS-PROJECT/internal/db"
	"github.com/SruthiDharan/LMS-PROJECT/internal/model"
	"github.com/SruthiDharan/LMS-PROJECT/internal/repository"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS users (
    id            UUID PRIMARY KEY,
    name          TEXT NOT NULL DEFAULT '',
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL CHECK (role IN ('ADMIN', 'TUTOR', 'STUDENT')),
    first_login   BOOLEAN NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS courses (
    id            UUID PRIMARY KEY,
    title         TEXT NOT NULL UNIQUE,
    description   TEXT NOT NULL DEFAULT '',
    created_by_id UUID NOT NULL REFERENCES users (id),
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS modules (
    id         UUID PRIMARY KEY,
    course_id  UUID NOT NULL REFERENCES courses (id) ON DELETE CASCADE,
    title      TEXT NOT NULL,
    sort_order INTEGER NOT NULL DEFAULT 0,
    UNIQUE (course_id, title)
);
CREATE TABLE IF NOT EXISTS lessons (
    id         UUID PRIMARY KEY,
    module_id  UUID NOT NULL REFERENCES modules (id) ON DELETE CASCADE,
    title      TEXT NOT NULL,
    content    TEXT NOT NULL DEFAULT '',
    sort_order INTEGER NOT NULL DEFAULT 0,
    UNIQUE (module_id, title)
);
`

func openTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("LMS_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("LMS_TEST_DB or DATABASE_URL not set")
		return nil
	}
	pool, err := db.NewPool(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil
	}
	if _, err := pool.Exec(context.Background(), testSchema); err != nil {
		pool.Close()
		t.Fatalf("schema setup failed: %v", err)
	}
	return pool
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:       "test-secret",
		JWTIssuer:       "test-issuer",
		AccessTokenTTL:  15 * time.Minute,
		BcryptCost:      4,
		TempPasswordLen: 8,
	}
}

func testEmail(prefix string) string {
	return prefix + "." + uuid.NewString()[:8] + "@example.local"
}

func seedUser(t *testing.T, store *repository.Store, role model.Role, password string, firstLogin bool) model.User {
	t.Helper()
	hash, err := crypto.HashPassword(password, 4)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	user := model.User{
		ID:           uuid.NewString(),
		Name:         "Test " + string(role),
		Email:        testEmail(strings.ToLower(string(role))),
		PasswordHash: hash,
		Role:         role,
		FirstLogin:   firstLogin,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user failed: %v", err)
	}
	t.Cleanup(func() {
		_, _ = store.DeleteUser(context.Background(), user.ID)
	})
	return user
}

func mustToken(t *testing.T, cfg config.Config, user model.User) string {
	t.Helper()
	token, err := auth.NewAccessToken(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL, auth.Claims{
		UserID:     user.ID,
		Role:       user.Role,
		FirstLogin: user.FirstLogin,
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	return token
}

func doJSON(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
}

func TestLoginFlow(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	cfg := testConfig()
	store := repository.NewStore(pool)
	app := httptest.NewServer(NewServer(cfg, store, nil).Router())
	defer app.Close()

	student := seedUser(t, store, model.RoleStudent, "Goodpass1!", false)

	resp := doJSON(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{
		"email":    student.Email,
		"password": "Goodpass1!",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var login loginResponse
	decodeBody(t, resp, &login)
	if login.Token == "" {
		t.Fatalf("expected token in response")
	}
	if login.RedirectTo != "/student-dashboard" {
		t.Fatalf("expected student dashboard redirect, got %s", login.RedirectTo)
	}
	if login.User.Email != student.Email || login.User.FirstLogin {
		t.Fatalf("unexpected user summary: %+v", login.User)
	}

	// Wrong password and unknown account produce identical responses.
	wrongPw := doJSON(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{
		"email":    student.Email,
		"password": "WrongPass1!",
	})
	unknown := doJSON(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{
		"email":    testEmail("ghost"),
		"password": "WrongPass1!",
	})
	if wrongPw.StatusCode != http.StatusUnauthorized || unknown.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for both failures, got %d and %d", wrongPw.StatusCode, unknown.StatusCode)
	}
	wrongBody, _ := io.ReadAll(wrongPw.Body)
	unknownBody, _ := io.ReadAll(unknown.Body)
	wrongPw.Body.Close()
	unknown.Body.Close()
	if !bytes.Equal(wrongBody, unknownBody) {
		t.Fatalf("expected identical error bodies, got %s vs %s", wrongBody, unknownBody)
	}
}

func TestLoginFirstLoginRedirect(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	cfg := testConfig()
	store := repository.NewStore(pool)
	app := httptest.NewServer(NewServer(cfg, store, nil).Router())
	defer app.Close()

	admin := seedUser(t, store, model.RoleAdmin, "Temp1234!", true)

	resp := doJSON(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{
		"email":    admin.Email,
		"password": "Temp1234!",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var login loginResponse
	decodeBody(t, resp, &login)
	if login.RedirectTo != "/reset-password" {
		t.Fatalf("expected reset redirect for first login, got %s", login.RedirectTo)
	}
}

func TestResetPasswordFirstLogin(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	cfg := testConfig()
	store := repository.NewStore(pool)
	app := httptest.NewServer(NewServer(cfg, store, nil).Router())
	defer app.Close()

	student := seedUser(t, store, model.RoleStudent, "TEMPPASS", true)
	token := mustToken(t, cfg, student)

	// Weak replacement is rejected with no state change.
	resp := doJSON(t, http.MethodPost, app.URL+"/auth/reset-password", token, map[string]string{
		"oldPassword": "TEMPPASS",
		"newPassword": "abcdefg",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for weak password, got %d", resp.StatusCode)
	}

	// Wrong temporary password is rejected.
	resp = doJSON(t, http.MethodPost, app.URL+"/auth/reset-password", token, map[string]string{
		"oldPassword": "WRONGTMP",
		"newPassword": "Goodpass1!",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong temp password, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, app.URL+"/auth/reset-password", token, map[string]string{
		"oldPassword": "TEMPPASS",
		"newPassword": "Goodpass1!",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// New password works and the first-login flag is gone.
	login := doJSON(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{
		"email":    student.Email,
		"password": "Goodpass1!",
	})
	if login.StatusCode != http.StatusOK {
		t.Fatalf("expected login with new password, got %d", login.StatusCode)
	}
	var body loginResponse
	decodeBody(t, login, &body)
	if body.User.FirstLogin {
		t.Fatalf("expected firstLogin cleared after reset")
	}

	// The retired temporary password no longer authenticates.
	stale := doJSON(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{
		"email":    student.Email,
		"password": "TEMPPASS",
	})
	if stale.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with old temp password, got %d", stale.StatusCode)
	}
}

func TestResetPasswordRequiresOldPassword(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	cfg := testConfig()
	store := repository.NewStore(pool)
	app := httptest.NewServer(NewServer(cfg, store, nil).Router())
	defer app.Close()

	tutor := seedUser(t, store, model.RoleTutor, "Goodpass1!", false)
	token := mustToken(t, cfg, tutor)

	resp := doJSON(t, http.MethodPost, app.URL+"/auth/reset-password", token, map[string]string{
		"newPassword": "Another1!",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing old password, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, app.URL+"/auth/reset-password", token, map[string]string{
		"oldPassword": "Goodpass1!",
		"newPassword": "Another1!",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRoleGuard(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	cfg := testConfig()
	store := repository.NewStore(pool)
	app := httptest.NewServer(NewServer(cfg, store, nil).Router())
	defer app.Close()

	admin := seedUser(t, store, model.RoleAdmin, "Goodpass1!", false)
	student := seedUser(t, store, model.RoleStudent, "Goodpass1!", false)

	resp := doJSON(t, http.MethodGet, app.URL+"/users", mustToken(t, cfg, student), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for student on admin route, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, app.URL+"/users", mustToken(t, cfg, admin), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", resp.StatusCode)
	}

	// A token outliving its user stops working immediately.
	ghost := seedUser(t, store, model.RoleAdmin, "Goodpass1!", false)
	ghostToken := mustToken(t, cfg, ghost)
	if _, err := store.DeleteUser(context.Background(), ghost.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	resp = doJSON(t, http.MethodGet, app.URL+"/users", ghostToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for deleted user, got %d", resp.StatusCode)
	}
}

func uploadCSV(t *testing.T, url, token, csvBody string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("csvFile", "students.csv")
	if err != nil {
		t.Fatalf("multipart error: %v", err)
	}
	if _, err := io.WriteString(part, csvBody); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, url+"/admin/upload-students", &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	return resp
}

func TestUploadStudentsEndToEnd(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	cfg := testConfig()
	store := repository.NewStore(pool)
	app := httptest.NewServer(NewServer(cfg, store, nil).Router())
	defer app.Close()

	admin := seedUser(t, store, model.RoleAdmin, "Goodpass1!", false)
	token := mustToken(t, cfg, admin)

	aliceEmail := testEmail("alice")
	bobEmail := testEmail("bob")
	csvBody := "name,email\nAlice," + aliceEmail + "\nBob," + bobEmail + "\nNo Email,\n"

	resp := uploadCSV(t, app.URL, token, csvBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var report uploadResponse
	decodeBody(t, resp, &report)
	if report.Created != 2 || len(report.TempCredentials) != 2 {
		t.Fatalf("expected 2 credentials, got %+v", report)
	}
	if len(report.Skipped) != 0 {
		t.Fatalf("expected no skipped rows, got %v", report.Skipped)
	}

	for _, cred := range report.TempCredentials {
		user, err := store.GetUserByEmail(context.Background(), cred.Email)
		if err != nil {
			t.Fatalf("expected %s stored: %v", cred.Email, err)
		}
		t.Cleanup(func() {
			_, _ = store.DeleteUser(context.Background(), user.ID)
		})
		if user.Role != model.RoleStudent || !user.FirstLogin {
			t.Fatalf("expected STUDENT with first_login, got %+v", user)
		}

		login := doJSON(t, http.MethodPost, app.URL+"/auth/login", "", map[string]string{
			"email":    cred.Email,
			"password": cred.Password,
		})
		if login.StatusCode != http.StatusOK {
			t.Fatalf("expected temp credential to authenticate, got %d", login.StatusCode)
		}
		var body loginResponse
		decodeBody(t, login, &body)
		if body.RedirectTo != "/reset-password" {
			t.Fatalf("expected reset redirect for provisioned user, got %s", body.RedirectTo)
		}
	}

	// Re-running the same file creates nothing and reports both rows skipped.
	resp = uploadCSV(t, app.URL, token, csvBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on re-upload, got %d", resp.StatusCode)
	}
	var second uploadResponse
	decodeBody(t, resp, &second)
	if second.Created != 0 || len(second.Skipped) != 2 {
		t.Fatalf("expected idempotent re-upload, got %+v", second)
	}
}

func TestUploadStudentsRejectsBadFiles(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	cfg := testConfig()
	store := repository.NewStore(pool)
	app := httptest.NewServer(NewServer(cfg, store, nil).Router())
	defer app.Close()

	admin := seedUser(t, store, model.RoleAdmin, "Goodpass1!", false)
	token := mustToken(t, cfg, admin)

	resp := uploadCSV(t, app.URL, token, "name,email\n,\n")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for file with no usable rows, got %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, _ := writer.CreateFormFile("csvFile", "students.txt")
	_, _ = io.WriteString(part, "name,email\nAlice,alice@x.com\n")
	_ = writer.Close()
	req, _ := http.NewRequest(http.MethodPost, app.URL+"/admin/upload-students", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	badExt, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	if badExt.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-csv extension, got %d", badExt.StatusCode)
	}
}

func TestCourseContentFlow(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	cfg := testConfig()
	store := repository.NewStore(pool)
	app := httptest.NewServer(NewServer(cfg, store, nil).Router())
	defer app.Close()

	admin := seedUser(t, store, model.RoleAdmin, "Goodpass1!", false)
	student := seedUser(t, store, model.RoleStudent, "Goodpass1!", false)
	adminToken := mustToken(t, cfg, admin)
	studentToken := mustToken(t, cfg, student)

	title := "Course " + uuid.NewString()[:8]
	resp := doJSON(t, http.MethodPost, app.URL+"/courses", adminToken, map[string]string{
		"title":       title,
		"description": "Test course",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var course courseResponse
	decodeBody(t, resp, &course)
	t.Cleanup(func() {
		_, _ = store.DeleteCourse(context.Background(), course.ID)
	})

	// Duplicate title is a conflict.
	resp = doJSON(t, http.MethodPost, app.URL+"/courses", adminToken, map[string]string{
		"title":       title,
		"description": "Duplicate",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate title, got %d", resp.StatusCode)
	}

	// Students cannot create courses.
	resp = doJSON(t, http.MethodPost, app.URL+"/courses", studentToken, map[string]string{
		"title":       title + " 2",
		"description": "Nope",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for student, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, app.URL+"/courses/"+course.ID+"/modules", adminToken, map[string]interface{}{
		"title": "Module One",
		"order": 1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for module, got %d", resp.StatusCode)
	}
	var module moduleResponse
	decodeBody(t, resp, &module)

	resp = doJSON(t, http.MethodPost, app.URL+"/modules/"+module.ID+"/lessons", adminToken, map[string]interface{}{
		"title":   "Lesson One",
		"content": "Welcome",
		"order":   1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for lesson, got %d", resp.StatusCode)
	}

	// Any authenticated user can read the nested detail.
	resp = doJSON(t, http.MethodGet, app.URL+"/courses/"+course.ID, studentToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var detail courseDetailResponse
	decodeBody(t, resp, &detail)
	if len(detail.Modules) != 1 || len(detail.Modules[0].Lessons) != 1 {
		t.Fatalf("expected nested module and lesson, got %+v", detail)
	}
}

func TestDashboardSummary(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	cfg := testConfig()
	store := repository.NewStore(pool)
	app := httptest.NewServer(NewServer(cfg, store, nil).Router())
	defer app.Close()

	admin := seedUser(t, store, model.RoleAdmin, "Goodpass1!", false)
	seedUser(t, store, model.RoleStudent, "Goodpass1!", true)

	resp := doJSON(t, http.MethodGet, app.URL+"/admin/dashboard/summary", mustToken(t, cfg, admin), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var summary dashboardSummary
	decodeBody(t, resp, &summary)
	if summary.TotalStudents < 1 {
		t.Fatalf("expected at least one student, got %d", summary.TotalStudents)
	}
	if len(summary.RecentStudents) < 1 {
		t.Fatalf("expected recent students listed")
	}
}
