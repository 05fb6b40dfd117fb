package db

import (
	"errors"
	"fmt"
	"time"

	"chatfeed/internal/models"
)

const userColumns = `id, username, created_at, updated_at`

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user. A taken username yields ErrDuplicate.
func (r *UserRepository) Create(username string) (*models.User, error) {
	id, err := GenerateID("usr")
	if err != nil {
		return nil, fmt.Errorf("generating user ID: %w", err)
	}
	u := &models.User{ID: id, Username: username, CreatedAt: time.Now().UTC()}
	u.UpdatedAt = &u.CreatedAt

	if _, err := r.db.Exec(
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?)`,
		u.ID, u.Username, u.CreatedAt, u.CreatedAt,
	); err != nil {
		return nil, wrapWriteErr(err, "creating user")
	}
	return u, nil
}

// Ensure returns the user with username, creating it if needed. Losing a
// concurrent insert race falls back to reading the winner's row.
func (r *UserRepository) Ensure(username string) (*models.User, error) {
	u, err := r.FindByUsername(username)
	switch {
	case err == nil:
		return u, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	u, err = r.Create(username)
	if errors.Is(err, ErrDuplicate) {
		return r.FindByUsername(username)
	}
	return u, err
}

func (r *UserRepository) FindByID(id string) (*models.User, error) {
	return r.queryUser(`WHERE id = ?`, id)
}

func (r *UserRepository) FindByUsername(username string) (*models.User, error) {
	return r.queryUser(`WHERE username = ?`, username)
}

// FindAll lists every user ordered by username.
func (r *UserRepository) FindAll() ([]*models.User, error) {
	rows, err := r.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepository) UpdateUsername(id, username string) error {
	result, err := r.db.Exec(
		`UPDATE users SET username = ?, updated_at = ? WHERE id = ?`,
		username, time.Now().UTC(), id,
	)
	if err != nil {
		return wrapWriteErr(err, "renaming user")
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) queryUser(where string, arg any) (*models.User, error) {
	u, err := scanUser(r.db.QueryRow(`SELECT `+userColumns+` FROM users `+where, arg))
	if err != nil {
		return nil, notFoundOr(err)
	}
	return u, nil
}

func scanUser(s rowScanner) (*models.User, error) {
	var (
		u         models.User
		updatedAt nullableTime
	)
	if err := s.Scan(&u.ID, &u.Username, &u.CreatedAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.UpdatedAt = updatedAt.ptr()
	return &u, nil
}
