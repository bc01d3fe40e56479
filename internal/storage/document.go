package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pnp-exchange/mentions-bot/internal/models"
	"github.com/sirupsen/logrus"
)

// DocumentSink keeps all mentions in a single JSON document. Appends are a
// read-modify-write of the whole document and are serialised by mu.
type DocumentSink struct {
	storage StorageInterface
	path    string
	mu      sync.Mutex
}

// Ensure DocumentSink implements Sink
var _ Sink = (*DocumentSink)(nil)

// NewDocumentSink creates a file sink writing to path on the given backend.
func NewDocumentSink(storage StorageInterface, path string) *DocumentSink {
	return &DocumentSink{storage: storage, path: path}
}

// Path returns the document name the sink writes.
func (d *DocumentSink) Path() string {
	return d.path
}

// Load reads the current document. A missing or unparsable document yields
// an empty one.
func (d *DocumentSink) Load(ctx context.Context) *models.OutputDocument {
	empty := models.NewOutputDocument(nil, models.QueryParameters{})

	data, err := d.storage.Retrieve(ctx, d.path)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logrus.Warnf("Could not read %s, starting from an empty document: %v", d.path, err)
		}
		return empty
	}

	var doc models.OutputDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		logrus.Warnf("Could not parse %s, starting from an empty document: %v", d.path, err)
		return empty
	}
	if doc.Tweets == nil {
		doc.Tweets = []models.Mention{}
	}
	return &doc
}

// Append adds mentions to the end of the stored sequence. Nothing is merged
// or deduplicated.
func (d *DocumentSink) Append(ctx context.Context, mentions []models.Mention, opts AppendOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc := d.Load(ctx)
	doc.Tweets = append(doc.Tweets, mentions...)
	doc.Metadata.Count = len(doc.Tweets)
	doc.Metadata.GeneratedAt = time.Now().UTC()
	if opts.Account != nil {
		doc.Metadata.QueryParameters.TargetAccount = *opts.Account
	}
	if opts.Last7Days != nil {
		doc.Metadata.QueryParameters.Last7Days = *opts.Last7Days
	}

	if err := d.write(ctx, doc); err != nil {
		return err
	}

	logrus.Infof("Appended %d mentions to %s (total %d)", len(mentions), d.path, doc.Metadata.Count)
	return nil
}

// WriteSnapshot replaces the document with doc.
func (d *DocumentSink) WriteSnapshot(ctx context.Context, doc *models.OutputDocument) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if doc.Tweets == nil {
		doc.Tweets = []models.Mention{}
	}
	doc.Metadata.Count = len(doc.Tweets)

	if err := d.write(ctx, doc); err != nil {
		return err
	}

	logrus.Infof("Wrote snapshot of %d mentions to %s", doc.Metadata.Count, d.path)
	return nil
}

func (d *DocumentSink) write(ctx context.Context, doc *models.OutputDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if err := d.storage.Store(ctx, d.path, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", d.path, err)
	}
	return nil
}
