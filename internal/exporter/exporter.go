// Package exporter describes CRM objects, flattens one level of reference
// fields into dotted names, and uploads one schema document per object.
package exporter

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fozzylyon/sf-schemas/internal/history"
	"github.com/fozzylyon/sf-schemas/internal/logging"
	"github.com/fozzylyon/sf-schemas/internal/metrics"
	"github.com/fozzylyon/sf-schemas/internal/salesforce"
	"github.com/fozzylyon/sf-schemas/internal/schema"
	"github.com/fozzylyon/sf-schemas/internal/storage"
)

const (
	documentContentType = "application/json"
	markerContentType   = "text/plain; charset=utf-8"
)

// CRM is the subset of the Salesforce client the exporter needs.
type CRM interface {
	Authenticate(ctx context.Context) error
	Describe(ctx context.Context, objectName string) ([]schema.Field, error)
}

// Recorder stores a row per uploaded document. history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Config holds exporter settings.
type Config struct {
	Folder   string
	Version  string
	Recorder Recorder // optional
}

// Exporter uploads schema documents for one version.
type Exporter struct {
	crm      CRM
	store    storage.Backend
	folder   string
	version  string
	recorder Recorder
}

// Result summarizes a run.
type Result struct {
	Version   string
	Uploaded  []string // document keys in upload order
	Skipped   []string // objects the CRM did not know
	MarkerKey string   // empty when nothing was uploaded
}

// New creates an exporter.
func New(crm CRM, store storage.Backend, cfg Config) (*Exporter, error) {
	if err := storage.ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	return &Exporter{
		crm:      crm,
		store:    store,
		folder:   cfg.Folder,
		version:  cfg.Version,
		recorder: cfg.Recorder,
	}, nil
}

// Run authenticates once and exports objectNames one at a time, in order.
// An object the CRM reports as not found is skipped; any other error stops
// the run and is returned with the partial result. Documents already
// uploaded are left in place.
func (e *Exporter) Run(ctx context.Context, objectNames []string) (*Result, error) {
	logger := logging.WithContext(ctx)
	res := &Result{Version: e.version}

	if err := e.crm.Authenticate(ctx); err != nil {
		return res, fmt.Errorf("authenticate: %w", err)
	}

	d := newDescriber(e.crm)
	seen := make(map[string]bool, len(objectNames))

	for _, name := range objectNames {
		if seen[name] {
			logger.Warn("duplicate object in export list", zap.String("object", name))
			continue
		}
		seen[name] = true

		doc, err := d.document(ctx, name)
		if salesforce.IsNotFound(err) {
			logger.Warn("object not found, skipping", zap.String("object", name), zap.Error(err))
			metrics.RecordDocumentSkipped()
			res.Skipped = append(res.Skipped, name)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("export %s: %w", name, err)
		}

		key, err := e.upload(ctx, doc)
		if err != nil {
			return res, fmt.Errorf("export %s: %w", name, err)
		}
		res.Uploaded = append(res.Uploaded, key)
	}

	if len(res.Uploaded) > 0 {
		key := storage.MarkerKey(e.folder, e.version)
		body := []byte(e.version)
		if err := e.store.PutObject(ctx, key, bytes.NewReader(body), int64(len(body)), markerContentType); err != nil {
			return res, fmt.Errorf("upload version marker: %w", err)
		}
		res.MarkerKey = key
	}

	logger.Info("export finished",
		zap.String("version", e.version),
		zap.Int("uploaded", len(res.Uploaded)),
		zap.Strings("skipped", res.Skipped))
	return res, nil
}

// Document authenticates and builds the flattened document for one object
// without uploading it.
func Document(ctx context.Context, crm CRM, objectName string) (*schema.Document, error) {
	if err := crm.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return newDescriber(crm).document(ctx, objectName)
}

func (e *Exporter) upload(ctx context.Context, doc *schema.Document) (string, error) {
	data, err := doc.Marshal()
	if err != nil {
		return "", err
	}

	key := storage.DocumentKey(e.folder, e.version, schema.FileName(doc.Object))
	if err := e.store.PutObject(ctx, key, bytes.NewReader(data), int64(len(data)), documentContentType); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	nested := doc.NestedCount()
	metrics.RecordDocumentExported(len(doc.Fields))
	logging.WithContext(ctx).Info("uploaded schema document",
		zap.String("object", doc.Object),
		zap.String("key", key),
		zap.Int("fields", len(doc.Fields)),
		zap.Int("nested", nested))

	if e.recorder != nil {
		entry := history.Entry{
			RunID:       logging.GetRunID(ctx),
			Version:     e.version,
			Object:      doc.Object,
			Key:         key,
			FieldCount:  len(doc.Fields),
			NestedCount: nested,
			ExportedAt:  time.Now().UTC(),
		}
		if err := e.recorder.Record(ctx, entry); err != nil {
			logging.WithContext(ctx).Error("failed to record export", zap.String("object", doc.Object), zap.Error(err))
		}
	}
	return key, nil
}
