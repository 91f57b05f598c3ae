package roster

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/SruthiDharan/LMS-PROJECT/internal/crypto"
	"github.com/SruthiDharan/LMS-PROJECT/internal/model"
)

// UserStore is the slice of storage the provisioner needs: a transactional
// insert-or-skip keyed by email that reports which emails were created.
type UserStore interface {
	UpsertStudents(ctx context.Context, users []model.User) ([]string, error)
}

type Credential struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Report struct {
	Created     int
	Credentials []Credential
	Skipped     []string
}

type Provisioner struct {
	store       UserStore
	bcryptCost  int
	passwordLen int
}

func NewProvisioner(store UserStore, bcryptCost, passwordLen int) *Provisioner {
	return &Provisioner{
		store:       store,
		bcryptCost:  bcryptCost,
		passwordLen: passwordLen,
	}
}

// Provision turns parsed rows into STUDENT accounts with generated temporary
// passwords. Hashing is fanned out across CPUs since bcrypt dominates the
// wall clock for large files; the insert itself is a single all-or-nothing
// transaction. Credentials are returned only for rows that were actually
// created; emails that already existed land in Skipped untouched.
func (p *Provisioner) Provision(ctx context.Context, rows []Row) (Report, error) {
	users := make([]model.User, len(rows))
	plaintexts := make([]string, len(rows))
	now := time.Now().UTC()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.NumCPU())
	for i, row := range rows {
		i, row := i, row
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			password, err := crypto.TempPassword(p.passwordLen)
			if err != nil {
				return err
			}
			hash, err := crypto.HashPassword(password, p.bcryptCost)
			if err != nil {
				return err
			}
			plaintexts[i] = password
			users[i] = model.User{
				ID:           uuid.NewString(),
				Name:         row.Name,
				Email:        row.Email,
				PasswordHash: hash,
				Role:         model.RoleStudent,
				FirstLogin:   true,
				CreatedAt:    now,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Report{}, err
	}

	inserted, err := p.store.UpsertStudents(ctx, users)
	if err != nil {
		return Report{}, err
	}

	created := make(map[string]bool, len(inserted))
	for _, email := range inserted {
		created[email] = true
	}

	report := Report{}
	for i, row := range rows {
		if created[row.Email] {
			report.Credentials = append(report.Credentials, Credential{
				Email:    row.Email,
				Password: plaintexts[i],
			})
			delete(created, row.Email)
			continue
		}
		report.Skipped = append(report.Skipped, row.Email)
	}
	report.Created = len(report.Credentials)
	return report, nil
}
