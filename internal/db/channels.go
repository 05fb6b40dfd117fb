package db

import (
	"errors"
	"fmt"
	"time"

	"chatfeed/internal/models"
)

const channelColumns = `id, name, created_at`

type ChannelRepository struct {
	db *DB
}

func NewChannelRepository(db *DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

func (r *ChannelRepository) Create(name string) (*models.Channel, error) {
	id, err := GenerateID("chn")
	if err != nil {
		return nil, fmt.Errorf("generating channel ID: %w", err)
	}
	c := &models.Channel{ID: id, Name: name, CreatedAt: time.Now().UTC()}

	if _, err := r.db.Exec(
		`INSERT INTO channels (`+channelColumns+`) VALUES (?, ?, ?)`,
		c.ID, c.Name, c.CreatedAt,
	); err != nil {
		return nil, wrapWriteErr(err, "creating channel")
	}
	return c, nil
}

// Ensure returns the channel called name, creating it if needed.
func (r *ChannelRepository) Ensure(name string) (*models.Channel, error) {
	c, err := r.FindByName(name)
	switch {
	case err == nil:
		return c, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	c, err = r.Create(name)
	if errors.Is(err, ErrDuplicate) {
		return r.FindByName(name)
	}
	return c, err
}

func (r *ChannelRepository) FindByID(id string) (*models.Channel, error) {
	return r.queryChannel(`WHERE id = ?`, id)
}

func (r *ChannelRepository) FindByName(name string) (*models.Channel, error) {
	return r.queryChannel(`WHERE name = ?`, name)
}

func (r *ChannelRepository) Exists(id string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM channels WHERE id = ?)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking channel: %w", err)
	}
	return exists, nil
}

// FindAll never returns a nil slice so the API encodes [] for no channels.
func (r *ChannelRepository) FindAll() ([]*models.Channel, error) {
	rows, err := r.db.Query(`SELECT ` + channelColumns + ` FROM channels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	defer rows.Close()

	channels := make([]*models.Channel, 0)
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

func (r *ChannelRepository) queryChannel(where string, arg any) (*models.Channel, error) {
	c, err := scanChannel(r.db.QueryRow(`SELECT `+channelColumns+` FROM channels `+where, arg))
	if err != nil {
		return nil, notFoundOr(err)
	}
	return c, nil
}

func scanChannel(s rowScanner) (*models.Channel, error) {
	var c models.Channel
	if err := s.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
		return nil, fmt.Errorf("scanning channel: %w", err)
	}
	return &c, nil
}
