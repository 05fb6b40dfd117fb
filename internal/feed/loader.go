package feed

import (
	"context"
	"errors"
	"fmt"

	"chatfeed/internal/models"
)

// Page is one slice of history returned by a Loader. HasMore is authoritative
// for whether older history exists beyond the page.
type Page struct {
	Messages []models.Message
	HasMore  bool
}

// Loader fetches history for a channel. Implementations must be safe for
// concurrent use across channels.
type Loader interface {
	LoadInitial(ctx context.Context, channelID string, limit int) (Page, error)
	LoadOlder(ctx context.Context, channelID, beforeID string, limit int) (Page, error)
}

// PaginationFetchError is recorded when a backward fetch fails. The buffer is left
// untouched and the fetch can be retried.
type PaginationFetchError struct {
	ChannelID string
	BeforeID  string
	Err       error
}

func (e *PaginationFetchError) Error() string {
	return fmt.Sprintf("loading history before %s in channel %s: %v", e.BeforeID, e.ChannelID, e.Err)
}

func (e *PaginationFetchError) Unwrap() error {
	return e.Err
}

// InitialLoadError is recorded when the first page of a channel cannot be loaded.
type InitialLoadError struct {
	ChannelID string
	Err       error
}

func (e *InitialLoadError) Error() string {
	return fmt.Sprintf("loading channel %s: %v", e.ChannelID, e.Err)
}

func (e *InitialLoadError) Unwrap() error {
	return e.Err
}

var ErrNoPaginationError = errors.New("no failed pagination to retry")
