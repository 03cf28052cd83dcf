package domain

import "errors"

// Domain errors.
var (
	// ErrMissingSourceCredential is returned when no X session token is configured.
	ErrMissingSourceCredential = errors.New("twitter auth token is required")

	// ErrInvalidSourceCredential is returned when X rejects the session token.
	ErrInvalidSourceCredential = errors.New("twitter auth token rejected")

	// ErrUserNotFound is returned when a source account does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrAlreadyRecorded is returned when writing a second ledger entry for an item.
	ErrAlreadyRecorded = errors.New("item already recorded in ledger")

	// ErrNoMediaURLs is returned when a media entity has no usable URL.
	ErrNoMediaURLs = errors.New("no media URLs provided")

	// ErrURLExpired is returned when a media URL is no longer accessible.
	ErrURLExpired = errors.New("media URL has expired")

	// ErrRateLimited is returned when rate limited by external services.
	ErrRateLimited = errors.New("rate limited")

	// ErrTooLarge is returned when a download exceeds its size limit.
	ErrTooLarge = errors.New("content exceeds size limit")

	// ErrEmptyPost is returned when an item has no text, media or link card.
	ErrEmptyPost = errors.New("nothing to publish")

	// ErrNotLoggedIn is returned when a client is used before Login.
	ErrNotLoggedIn = errors.New("not logged in")
)

// ItemError wraps an error with source item context.
type ItemError struct {
	ItemID TweetID
	Op     string
	Err    error
}

func (e *ItemError) Error() string {
	if e.ItemID != "" {
		return e.Op + " [" + e.ItemID.String() + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// NewItemError creates a new ItemError.
func NewItemError(itemID TweetID, op string, err error) *ItemError {
	return &ItemError{
		ItemID: itemID,
		Op:     op,
		Err:    err,
	}
}
