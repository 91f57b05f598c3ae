package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SruthiDharan/LMS-PROJECT/internal/model"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

const userColumns = `id, name, email, password_hash, role, first_login, created_at`

func scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.FirstLogin,
		&user.CreatedAt,
	)
	return user, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE lower(email) = lower($1)
	`, email)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, userID)
	return scanUser(row)
}

func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, first_login, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.FirstLogin, user.CreatedAt)
	return err
}

func (s *Store) ListUsers(ctx context.Context, limit int) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

type UserUpdate struct {
	Name       *string
	Role       *model.Role
	FirstLogin *bool
}

func (s *Store) UpdateUser(ctx context.Context, userID string, update UserUpdate) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users
		SET name = COALESCE($2, name),
		    role = COALESCE($3, role),
		    first_login = COALESCE($4, first_login)
		WHERE id = $1
		RETURNING `+userColumns+`
	`, userID, update.Name, update.Role, update.FirstLogin)
	return scanUser(row)
}

// UpdateUserPassword replaces the stored hash and clears the first-login
// flag in one statement, so a reset never lands halfway.
func (s *Store) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $2, first_login = false
		WHERE id = $1
	`, userID, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertStudents inserts the batch inside a single transaction and returns
// the emails that were actually created. Rows whose email already exists are
// left untouched; any other failure rolls the whole batch back.
func (s *Store) UpsertStudents(ctx context.Context, users []model.User) ([]string, error) {
	var inserted []string
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		for _, user := range users {
			var email string
			err := tx.QueryRow(ctx, `
				INSERT INTO users (id, name, email, password_hash, role, first_login, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (email) DO NOTHING
				RETURNING email
			`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.FirstLogin, user.CreatedAt).Scan(&email)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return err
			}
			inserted = append(inserted, email)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// UpsertUser is the seeding variant: insert-or-leave-alone keyed by email,
// reporting the stored row either way.
func (s *Store) UpsertUser(ctx context.Context, user model.User) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, first_login, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO UPDATE SET email = users.email
		RETURNING `+userColumns+`
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.FirstLogin, user.CreatedAt)
	return scanUser(row)
}

const courseColumns = `id, title, description, created_by_id, created_at`

func scanCourse(row pgx.Row) (model.Course, error) {
	var course model.Course
	err := row.Scan(
		&course.ID,
		&course.Title,
		&course.Description,
		&course.CreatedByID,
		&course.CreatedAt,
	)
	return course, err
}

func (s *Store) CreateCourse(ctx context.Context, course model.Course) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO courses (id, title, description, created_by_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, course.ID, course.Title, course.Description, course.CreatedByID, course.CreatedAt)
	return err
}

func (s *Store) GetCourse(ctx context.Context, courseID string) (model.Course, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+courseColumns+`
		FROM courses
		WHERE id = $1
	`, courseID)
	return scanCourse(row)
}

func (s *Store) ListCourses(ctx context.Context) ([]model.Course, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+courseColumns+`
		FROM courses
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courses []model.Course
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, course)
	}
	return courses, rows.Err()
}

type CourseUpdate struct {
	Title       *string
	Description *string
}

func (s *Store) UpdateCourse(ctx context.Context, courseID string, update CourseUpdate) (model.Course, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE courses
		SET title = COALESCE($2, title),
		    description = COALESCE($3, description)
		WHERE id = $1
		RETURNING `+courseColumns+`
	`, courseID, update.Title, update.Description)
	return scanCourse(row)
}

func (s *Store) DeleteCourse(ctx context.Context, courseID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM courses WHERE id = $1`, courseID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) UpsertCourse(ctx context.Context, course model.Course) (model.Course, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO courses (id, title, description, created_by_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (title) DO UPDATE SET description = EXCLUDED.description
		RETURNING `+courseColumns+`
	`, course.ID, course.Title, course.Description, course.CreatedByID, course.CreatedAt)
	return scanCourse(row)
}

func (s *Store) ListModulesByCourse(ctx context.Context, courseID string) ([]model.Module, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, course_id, title, sort_order
		FROM modules
		WHERE course_id = $1
		ORDER BY sort_order ASC
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []model.Module
	for rows.Next() {
		var module model.Module
		if err := rows.Scan(&module.ID, &module.CourseID, &module.Title, &module.Order); err != nil {
			return nil, err
		}
		modules = append(modules, module)
	}
	return modules, rows.Err()
}

func (s *Store) CreateModule(ctx context.Context, module model.Module) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO modules (id, course_id, title, sort_order)
		VALUES ($1, $2, $3, $4)
	`, module.ID, module.CourseID, module.Title, module.Order)
	return err
}

type ModuleUpdate struct {
	Title *string
	Order *int32
}

func (s *Store) UpdateModule(ctx context.Context, moduleID string, update ModuleUpdate) (model.Module, error) {
	var module model.Module
	err := s.pool.QueryRow(ctx, `
		UPDATE modules
		SET title = COALESCE($2, title),
		    sort_order = COALESCE($3, sort_order)
		WHERE id = $1
		RETURNING id, course_id, title, sort_order
	`, moduleID, update.Title, update.Order).Scan(&module.ID, &module.CourseID, &module.Title, &module.Order)
	return module, err
}

func (s *Store) DeleteModule(ctx context.Context, moduleID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM modules WHERE id = $1`, moduleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) UpsertModule(ctx context.Context, module model.Module) (model.Module, error) {
	var out model.Module
	err := s.pool.QueryRow(ctx, `
		INSERT INTO modules (id, course_id, title, sort_order)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (course_id, title) DO UPDATE SET sort_order = EXCLUDED.sort_order
		RETURNING id, course_id, title, sort_order
	`, module.ID, module.CourseID, module.Title, module.Order).Scan(&out.ID, &out.CourseID, &out.Title, &out.Order)
	return out, err
}

func (s *Store) GetModule(ctx context.Context, moduleID string) (model.Module, error) {
	var module model.Module
	err := s.pool.QueryRow(ctx, `
		SELECT id, course_id, title, sort_order
		FROM modules
		WHERE id = $1
	`, moduleID).Scan(&module.ID, &module.CourseID, &module.Title, &module.Order)
	return module, err
}

func (s *Store) ListLessonsByCourse(ctx context.Context, courseID string) ([]model.Lesson, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.id, l.module_id, l.title, l.content, l.sort_order
		FROM lessons l
		JOIN modules m ON m.id = l.module_id
		WHERE m.course_id = $1
		ORDER BY l.sort_order ASC
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lessons []model.Lesson
	for rows.Next() {
		var lesson model.Lesson
		if err := rows.Scan(&lesson.ID, &lesson.ModuleID, &lesson.Title, &lesson.Content, &lesson.Order); err != nil {
			return nil, err
		}
		lessons = append(lessons, lesson)
	}
	return lessons, rows.Err()
}

func (s *Store) CreateLesson(ctx context.Context, lesson model.Lesson) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lessons (id, module_id, title, content, sort_order)
		VALUES ($1, $2, $3, $4, $5)
	`, lesson.ID, lesson.ModuleID, lesson.Title, lesson.Content, lesson.Order)
	return err
}

type LessonUpdate struct {
	Title   *string
	Content *string
	Order   *int32
}

func (s *Store) UpdateLesson(ctx context.Context, lessonID string, update LessonUpdate) (model.Lesson, error) {
	var lesson model.Lesson
	err := s.pool.QueryRow(ctx, `
		UPDATE lessons
		SET title = COALESCE($2, title),
		    content = COALESCE($3, content),
		    sort_order = COALESCE($4, sort_order)
		WHERE id = $1
		RETURNING id, module_id, title, content, sort_order
	`, lessonID, update.Title, update.Content, update.Order).Scan(&lesson.ID, &lesson.ModuleID, &lesson.Title, &lesson.Content, &lesson.Order)
	return lesson, err
}

func (s *Store) DeleteLesson(ctx context.Context, lessonID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM lessons WHERE id = $1`, lessonID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) UpsertLesson(ctx context.Context, lesson model.Lesson) (model.Lesson, error) {
	var out model.Lesson
	err := s.pool.QueryRow(ctx, `
		INSERT INTO lessons (id, module_id, title, content, sort_order)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (module_id, title) DO UPDATE SET content = EXCLUDED.content, sort_order = EXCLUDED.sort_order
		RETURNING id, module_id, title, content, sort_order
	`, lesson.ID, lesson.ModuleID, lesson.Title, lesson.Content, lesson.Order).Scan(&out.ID, &out.ModuleID, &out.Title, &out.Content, &out.Order)
	return out, err
}

func (s *Store) CountUsersByRole(ctx context.Context, role model.Role) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role = $1`, role).Scan(&count)
	return count, err
}

func (s *Store) CountCourses(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM courses`).Scan(&count)
	return count, err
}

func (s *Store) ListRecentStudents(ctx context.Context, limit int) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, model.RoleStudent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
