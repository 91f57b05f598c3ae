package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/SruthiDharan/LMS-PROJECT/internal/auth"
	"github.com/SruthiDharan/LMS-PROJECT/internal/config"
	"github.com/SruthiDharan/LMS-PROJECT/internal/crypto"
	"github.com/SruthiDharan/LMS-PROJECT/internal/model"
	"github.com/SruthiDharan/LMS-PROJECT/internal/repository"
	"github.com/SruthiDharan/LMS-PROJECT/internal/roster"
)

const (
	maxUploadBytes    = 10 << 20
	passwordSymbols   = "@$!%*?&"
	dashboardCacheKey = "lms:dashboard:summary"
)

type Server struct {
	cfg         config.Config
	store       *repository.Store
	provisioner *roster.Provisioner
	redis       *redis.Client
}

func NewServer(cfg config.Config, store *repository.Store, redisClient *redis.Client) *Server {
	return &Server{
		cfg:         cfg,
		store:       store,
		provisioner: roster.NewProvisioner(store, cfg.BcryptCost, cfg.TempPasswordLen),
		redis:       redisClient,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", s.handleLogin)
	r.With(s.authMiddleware).Post("/auth/reset-password", s.handleResetPassword)

	r.Route("/users", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireRole(model.RoleAdmin))
		r.Post("/", s.handleCreateUser)
		r.Get("/", s.handleListUsers)
		r.Patch("/{userID}", s.handleUpdateUser)
		r.Delete("/{userID}", s.handleDeleteUser)
	})

	r.Route("/courses", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/", s.handleListCourses)
		r.Get("/{courseID}", s.handleGetCourse)

		r.Group(func(r chi.Router) {
			r.Use(s.requireRole(model.RoleAdmin))
			r.Post("/", s.handleCreateCourse)
			r.Patch("/{courseID}", s.handleUpdateCourse)
			r.Delete("/{courseID}", s.handleDeleteCourse)
			r.Post("/{courseID}/modules", s.handleCreateModule)
		})
	})

	r.Route("/modules", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireRole(model.RoleAdmin))
		r.Patch("/{moduleID}", s.handleUpdateModule)
		r.Delete("/{moduleID}", s.handleDeleteModule)
		r.Post("/{moduleID}/lessons", s.handleCreateLesson)
	})

	r.Route("/lessons", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireRole(model.RoleAdmin))
		r.Patch("/{lessonID}", s.handleUpdateLesson)
		r.Delete("/{lessonID}", s.handleDeleteLesson)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireRole(model.RoleAdmin))
		r.Post("/upload-students", s.handleUploadStudents)
		r.Get("/dashboard/summary", s.handleDashboardSummary)
	})

	return r
}

type userSummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Role       model.Role `json:"role"`
	FirstLogin bool       `json:"firstLogin"`
	CreatedAt  string     `json:"createdAt,omitempty"`
}

func mapUser(user model.User) userSummary {
	summary := userSummary{
		ID:         user.ID,
		Name:       user.Name,
		Email:      user.Email,
		Role:       user.Role,
		FirstLogin: user.FirstLogin,
	}
	if !user.CreatedAt.IsZero() {
		summary.CreatedAt = user.CreatedAt.UTC().Format(time.RFC3339)
	}
	return summary
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token      string      `json:"token"`
	User       userSummary `json:"user"`
	RedirectTo string      `json:"redirectTo"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if repository.IsNotFound(err) {
			// Same response as a wrong password: no account enumeration.
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		log.Printf("login lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	if err := s.checkPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID:     user.ID,
		Role:       user.Role,
		FirstLogin: user.FirstLogin,
	})
	if err != nil {
		log.Printf("token issue failed: %v", err)
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:      token,
		User:       mapUser(user),
		RedirectTo: redirectFor(user),
	})
}

// redirectFor routes a freshly authenticated client. A pending temporary
// password outranks the role dashboards.
func redirectFor(user model.User) string {
	if user.FirstLogin {
		return "/reset-password"
	}
	switch user.Role {
	case model.RoleAdmin:
		return "/admin-dashboard"
	case model.RoleTutor:
		return "/tutor-dashboard"
	default:
		return "/student-dashboard"
	}
}

type resetPasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "missing_new_password")
		return
	}
	if !passwordMeetsPolicy(req.NewPassword) {
		writeError(w, http.StatusBadRequest, "weak_password")
		return
	}

	// The guard already re-read the user, so the stored hash and flag here
	// are current, not token claims.
	if actor.FirstLogin {
		if s.checkPassword(actor.PasswordHash, req.OldPassword) != nil {
			writeError(w, http.StatusUnauthorized, "invalid_temporary_password")
			return
		}
	} else {
		if req.OldPassword == "" || s.checkPassword(actor.PasswordHash, req.OldPassword) != nil {
			writeError(w, http.StatusUnauthorized, "invalid_old_password")
			return
		}
	}

	hash, err := s.hashPassword(req.NewPassword)
	if err != nil {
		log.Printf("password hash failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := s.store.UpdateUserPassword(r.Context(), actor.ID, hash); err != nil {
		if repository.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		log.Printf("password update failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// passwordMeetsPolicy requires at least 8 characters with one upper, one
// lower, one digit and one symbol from the fixed set.
func passwordMeetsPolicy(password string) bool {
	if len(password) < 8 {
		return false
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if req.Email == "" || req.Password == "" || req.Role == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	role, ok := model.ParseRole(req.Role)
	if !ok || role == model.RoleAdmin {
		// Admin accounts are seeded, never created over the API.
		writeError(w, http.StatusBadRequest, "invalid_role")
		return
	}

	hash, err := s.hashPassword(req.Password)
	if err != nil {
		log.Printf("password hash failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	user := model.User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         role,
		FirstLogin:   true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if repository.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "email_exists")
			return
		}
		log.Printf("user create failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, mapUser(user))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	users, err := s.store.ListUsers(r.Context(), limit)
	if err != nil {
		log.Printf("user list failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	summaries := make([]userSummary, 0, len(users))
	for _, user := range users {
		summaries = append(summaries, mapUser(user))
	}
	writeJSON(w, http.StatusOK, summaries)
}

type updateUserRequest struct {
	Name       *string `json:"name,omitempty"`
	Role       *string `json:"role,omitempty"`
	FirstLogin *bool   `json:"firstLogin,omitempty"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	update := repository.UserUpdate{FirstLogin: req.FirstLogin}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name != "" {
			update.Name = &name
		}
	}
	if req.Role != nil {
		role, ok := model.ParseRole(*req.Role)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_role")
			return
		}
		update.Role = &role
	}

	user, err := s.store.UpdateUser(r.Context(), userID, update)
	if err != nil {
		if repository.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		log.Printf("user update failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, mapUser(user))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	deleted, err := s.store.DeleteUser(r.Context(), userID)
	if err != nil {
		log.Printf("user delete failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type uploadResponse struct {
	Status          string              `json:"status"`
	Message         string              `json:"message"`
	Created         int                 `json:"created"`
	TempCredentials []roster.Credential `json:"tempCredentials"`
	Skipped         []string            `json:"skipped,omitempty"`
}

func (s *Server) handleUploadStudents(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	file, header, err := r.FormFile("csvFile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file")
		return
	}
	defer file.Close()

	if strings.ToLower(filepath.Ext(header.Filename)) != ".csv" {
		writeError(w, http.StatusBadRequest, "invalid_file_type")
		return
	}

	rows, dropped, err := roster.ParseRows(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "empty_or_invalid_file")
		return
	}

	report, err := s.provisioner.Provision(r.Context(), rows)
	if err != nil {
		log.Printf("student provisioning failed: %v", err)
		writeError(w, http.StatusInternalServerError, "provisioning_failed")
		return
	}

	message := fmt.Sprintf("%d student records created, %d already existed, %d rows dropped.",
		report.Created, len(report.Skipped), dropped)
	credentials := report.Credentials
	if credentials == nil {
		credentials = []roster.Credential{}
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Status:          "success",
		Message:         message,
		Created:         report.Created,
		TempCredentials: credentials,
		Skipped:         report.Skipped,
	})
}

type courseResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedByID string `json:"createdById,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

func mapCourse(course model.Course) courseResponse {
	resp := courseResponse{
		ID:          course.ID,
		Title:       course.Title,
		Description: course.Description,
		CreatedByID: course.CreatedByID,
	}
	if !course.CreatedAt.IsZero() {
		resp.CreatedAt = course.CreatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

type createCourseRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req createCourseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	course := model.Course{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		CreatedByID: actor.ID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateCourse(r.Context(), course); err != nil {
		if repository.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "title_exists")
			return
		}
		log.Printf("course create failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, mapCourse(course))
}

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.store.ListCourses(r.Context())
	if err != nil {
		log.Printf("course list failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]courseResponse, 0, len(courses))
	for _, course := range courses {
		resp = append(resp, mapCourse(course))
	}
	writeJSON(w, http.StatusOK, resp)
}

type lessonResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Order int32  `json:"order"`
}

type moduleResponse struct {
	ID      string           `json:"id"`
	Title   string           `json:"title"`
	Order   int32            `json:"order"`
	Lessons []lessonResponse `json:"lessons"`
}

type courseDetailResponse struct {
	courseResponse
	Modules []moduleResponse `json:"modules"`
}

func (s *Server) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	if courseID == "" {
		writeError(w, http.StatusBadRequest, "missing_course_id")
		return
	}

	course, err := s.store.GetCourse(r.Context(), courseID)
	if err != nil {
		if repository.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "course_not_found")
			return
		}
		log.Printf("course fetch failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	modules, err := s.store.ListModulesByCourse(r.Context(), courseID)
	if err != nil {
		log.Printf("module list failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	lessons, err := s.store.ListLessonsByCourse(r.Context(), courseID)
	if err != nil {
		log.Printf("lesson list failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	lessonsByModule := make(map[string][]lessonResponse, len(modules))
	for _, lesson := range lessons {
		lessonsByModule[lesson.ModuleID] = append(lessonsByModule[lesson.ModuleID], lessonResponse{
			ID:    lesson.ID,
			Title: lesson.Title,
			Order: lesson.Order,
		})
	}

	detail := courseDetailResponse{
		courseResponse: mapCourse(course),
		Modules:        make([]moduleResponse, 0, len(modules)),
	}
	for _, module := range modules {
		entries := lessonsByModule[module.ID]
		if entries == nil {
			entries = []lessonResponse{}
		}
		detail.Modules = append(detail.Modules, moduleResponse{
			ID:      module.ID,
			Title:   module.Title,
			Order:   module.Order,
			Lessons: entries,
		})
	}

	writeJSON(w, http.StatusOK, detail)
}

type updateCourseRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (s *Server) handleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	if courseID == "" {
		writeError(w, http.StatusBadRequest, "missing_course_id")
		return
	}

	var req updateCourseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	update := repository.CourseUpdate{Description: req.Description}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title != "" {
			update.Title = &title
		}
	}

	course, err := s.store.UpdateCourse(r.Context(), courseID, update)
	if err != nil {
		if repository.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "course_not_found")
			return
		}
		if repository.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "title_exists")
			return
		}
		log.Printf("course update failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, mapCourse(course))
}

func (s *Server) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	if courseID == "" {
		writeError(w, http.StatusBadRequest, "missing_course_id")
		return
	}

	deleted, err := s.store.DeleteCourse(r.Context(), courseID)
	if err != nil {
		log.Printf("course delete failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "course_not_found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type createModuleRequest struct {
	Title string `json:"title"`
	Order int32  `json:"order"`
}

func (s *Server) handleCreateModule(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	if courseID == "" {
		writeError(w, http.StatusBadRequest, "missing_course_id")
		return
	}

	var req createModuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	if _, err := s.store.GetCourse(r.Context(), courseID); err != nil {
		if repository.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "course_not_found")
			return
		}
		log.Printf("course fetch failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	module := model.Module{
		ID:       uuid.NewString(),
		CourseID: courseID,
		Title:    req.Title,
		Order:    req.Order,
	}
	if err := s.store.CreateModule(r.Context(), module); err != nil {
		if repository.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "title_exists")
			return
		}
		log.Printf("module create failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, moduleResponse{
		ID:      module.ID,
		Title:   module.Title,
		Order:   module.Order,
		Lessons: []lessonResponse{},
	})
}

type updateModuleRequest struct {
	Title *string `json:"title,omitempty"`
	Order *int32  `json:"order,omitempty"`
}

func (s *Server) handleUpdateModule(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleID")
	if moduleID == "" {
		writeError(w, http.StatusBadRequest, "missing_module_id")
		return
	}

	var req updateModuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	update := repository.ModuleUpdate{Order: req.Order}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title != "" {
			update.Title = &title
		}
	}

	module, err := s.store.UpdateModule(r.Context(), moduleID, update)
	if err != nil {
		if repository.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "module_not_found")
			return
		}
		if repository.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "title_exists")
			return
		}
		log.Printf("module update failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, moduleResponse{
		ID:    module.ID,
		Title: module.Title,
		Order: module.Order,
	})
}

func (s *Server) handleDeleteModule(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleID")
	if moduleID == "" {
		writeError(w, http.StatusBadRequest, "missing_module_id")
		return
	}

	deleted, err := s.store.DeleteModule(r.Context(), moduleID)
	if err != nil {
		log.Printf("module delete failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "module_not_found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type createLessonRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Order   int32  `json:"order"`
}

func (s *Server) handleCreateLesson(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleID")
	if moduleID == "" {
		writeError(w, http.StatusBadRequest, "missing_module_id")
		return
	}

	var req createLessonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	if _, err := s.store.GetModule(r.Context(), moduleID); err != nil {
		if repository.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "module_not_found")
			return
		}
		log.Printf("module fetch failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	lesson := model.Lesson{
		ID:       uuid.NewString(),
		ModuleID: moduleID,
		Title:    req.Title,
		Content:  req.Content,
		Order:    req.Order,
	}
	if err := s.store.CreateLesson(r.Context(), lesson); err != nil {
		if repository.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "title_exists")
			return
		}
		log.Printf("lesson create failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, lessonResponse{
		ID:    lesson.ID,
		Title: lesson.Title,
		Order: lesson.Order,
	})
}

type updateLessonRequest struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
	Order   *int32  `json:"order,omitempty"`
}

func (s *Server) handleUpdateLesson(w http.ResponseWriter, r *http.Request) {
	lessonID := chi.URLParam(r, "lessonID")
	if lessonID == "" {
		writeError(w, http.StatusBadRequest, "missing_lesson_id")
		return
	}

	var req updateLessonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	update := repository.LessonUpdate{Content: req.Content, Order: req.Order}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title != "" {
			update.Title = &title
		}
	}

	lesson, err := s.store.UpdateLesson(r.Context(), lessonID, update)
	if err != nil {
		if repository.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "lesson_not_found")
			return
		}
		if repository.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "title_exists")
			return
		}
		log.Printf("lesson update failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, lessonResponse{
		ID:    lesson.ID,
		Title: lesson.Title,
		Order: lesson.Order,
	})
}

func (s *Server) handleDeleteLesson(w http.ResponseWriter, r *http.Request) {
	lessonID := chi.URLParam(r, "lessonID")
	if lessonID == "" {
		writeError(w, http.StatusBadRequest, "missing_lesson_id")
		return
	}

	deleted, err := s.store.DeleteLesson(r.Context(), lessonID)
	if err != nil {
		log.Printf("lesson delete failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "lesson_not_found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type dashboardSummary struct {
	TotalStudents  int64         `json:"totalStudents"`
	TotalCourses   int64         `json:"totalCourses"`
	RecentStudents []userSummary `json:"recentStudents"`
}

func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	if s.redis != nil {
		if cached, err := s.redis.Get(r.Context(), dashboardCacheKey).Bytes(); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		}
	}

	totalStudents, err := s.store.CountUsersByRole(r.Context(), model.RoleStudent)
	if err != nil {
		log.Printf("dashboard count failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	totalCourses, err := s.store.CountCourses(r.Context())
	if err != nil {
		log.Printf("dashboard count failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	recent, err := s.store.ListRecentStudents(r.Context(), 5)
	if err != nil {
		log.Printf("dashboard recent failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	summary := dashboardSummary{
		TotalStudents:  totalStudents,
		TotalCourses:   totalCourses,
		RecentStudents: make([]userSummary, 0, len(recent)),
	}
	for _, user := range recent {
		summary.RecentStudents = append(summary.RecentStudents, mapUser(user))
	}

	if s.redis != nil {
		if payload, err := json.Marshal(summary); err == nil {
			if err := s.redis.Set(r.Context(), dashboardCacheKey, payload, s.cfg.DashboardCacheTTL).Err(); err != nil {
				log.Printf("dashboard cache write failed: %v", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, summary)
}

// actor is the verified identity attached to a guarded request. It is
// re-read from storage on every request so role changes and deletions take
// effect immediately, token claims notwithstanding.
type actor struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         model.Role
	FirstLogin   bool
}

type actorKey struct{}

func actorFromContext(ctx context.Context) *actor {
	value := ctx.Value(actorKey{})
	act, _ := value.(*actor)
	return act
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		user, err := s.store.GetUserByID(r.Context(), claims.UserID)
		if err != nil {
			if repository.IsNotFound(err) {
				writeError(w, http.StatusUnauthorized, "user_not_found")
				return
			}
			log.Printf("actor lookup failed: %v", err)
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}

		ctx := context.WithValue(r.Context(), actorKey{}, &actor{
			ID:           user.ID,
			Name:         user.Name,
			Email:        user.Email,
			PasswordHash: user.PasswordHash,
			Role:         user.Role,
			FirstLogin:   user.FirstLogin,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			act := actorFromContext(r.Context())
			if act == nil {
				writeError(w, http.StatusUnauthorized, "missing_token")
				return
			}
			for _, role := range roles {
				if act.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}

func (s *Server) hashPassword(plaintext string) (string, error) {
	return crypto.HashPassword(plaintext, s.cfg.BcryptCost)
}

func (s *Server) checkPassword(hash, plaintext string) error {
	return crypto.CheckPassword(hash, plaintext)
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
