package storage

import (
	"context"
	"errors"

	"github.com/pnp-exchange/mentions-bot/internal/models"
)

// ErrNotFound is returned by Retrieve when the named document does not exist.
var ErrNotFound = errors.New("document not found")

// StorageInterface defines the contract for document storage backends
type StorageInterface interface {
	Store(ctx context.Context, filename string, data []byte) error
	Retrieve(ctx context.Context, filename string) ([]byte, error)
}

// AppendOptions carries metadata echoed into the document on append. Nil
// fields keep the values already stored.
type AppendOptions struct {
	Account   *string
	Last7Days *bool
}

// Sink durably records batches of qualifying mentions.
type Sink interface {
	Append(ctx context.Context, mentions []models.Mention, opts AppendOptions) error
	WriteSnapshot(ctx context.Context, doc *models.OutputDocument) error
}
