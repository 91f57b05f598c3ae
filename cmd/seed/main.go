package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/SruthiDharan/LMS-PROJECT/internal/config"
	"github.com/SruthiDharan/LMS-PROJECT/internal/crypto"
	"github.com/SruthiDharan/LMS-PROJECT/internal/db"
	"github.com/SruthiDharan/LMS-PROJECT/internal/model"
	"github.com/SruthiDharan/LMS-PROJECT/internal/repository"
)

// Seeds the local development database with two known accounts and a
// small course so the application is usable straight away. Safe to run
// repeatedly: every write is an upsert keyed on the natural identifier.
func main() {
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	store := repository.NewStore(pool)

	hash, err := crypto.HashPassword("Password1!", cfg.BcryptCost)
	if err != nil {
		log.Fatalf("hash failed: %v", err)
	}

	now := time.Now().UTC()
	admin, err := store.UpsertUser(ctx, model.User{
		ID:           uuid.NewString(),
		Name:         "Admin",
		Email:        "admin@lms.com",
		PasswordHash: hash,
		Role:         model.RoleAdmin,
		FirstLogin:   true,
		CreatedAt:    now,
	})
	if err != nil {
		log.Fatalf("seed admin failed: %v", err)
	}
	log.Printf("admin ready: %s", admin.Email)

	student, err := store.UpsertUser(ctx, model.User{
		ID:           uuid.NewString(),
		Name:         "Student",
		Email:        "student@lms.com",
		PasswordHash: hash,
		Role:         model.RoleStudent,
		FirstLogin:   true,
		CreatedAt:    now,
	})
	if err != nil {
		log.Fatalf("seed student failed: %v", err)
	}
	log.Printf("student ready: %s", student.Email)

	course, err := store.UpsertCourse(ctx, model.Course{
		ID:          uuid.NewString(),
		Title:       "Introduction to Programming",
		Description: "Learn the basics of programming with hands-on lessons.",
		CreatedByID: admin.ID,
		CreatedAt:   now,
	})
	if err != nil {
		log.Fatalf("seed course failed: %v", err)
	}

	module, err := store.UpsertModule(ctx, model.Module{
		ID:       uuid.NewString(),
		CourseID: course.ID,
		Title:    "Getting Started",
		Order:    1,
	})
	if err != nil {
		log.Fatalf("seed module failed: %v", err)
	}

	lessons := []model.Lesson{
		{ID: uuid.NewString(), ModuleID: module.ID, Title: "What is Programming?", Content: "An overview of how programs are written and executed.", Order: 1},
		{ID: uuid.NewString(), ModuleID: module.ID, Title: "Setting Up Your Environment", Content: "Install the tools you need to start writing code.", Order: 2},
	}
	for _, lesson := range lessons {
		if _, err := store.UpsertLesson(ctx, lesson); err != nil {
			log.Fatalf("seed lesson failed: %v", err)
		}
	}

	log.Printf("seed complete: course %q with %d lessons", course.Title, len(lessons))
}
