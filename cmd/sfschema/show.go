package main

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/fozzylyon/sf-schemas/internal/cache"
	"github.com/fozzylyon/sf-schemas/internal/exporter"
	"github.com/fozzylyon/sf-schemas/internal/schema"
)

func writeDocument(w io.Writer, doc *schema.Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", doc.Object, err)
	}
	return nil
}

// showCached brings the cache up to version and prints one of its documents.
func showCached(ctx context.Context, l *cache.Loader, version, objectName string, w io.Writer) error {
	names, err := l.Load(ctx, version)
	if err != nil {
		return err
	}
	if !slices.Contains(names, objectName) {
		return fmt.Errorf("%s is not part of version %s", objectName, version)
	}

	doc, err := l.Document(objectName)
	if err != nil {
		return err
	}
	return writeDocument(w, doc)
}

// describeLive prints the flattened document the exporter would upload.
func describeLive(ctx context.Context, crm exporter.CRM, objectName string, w io.Writer) error {
	doc, err := exporter.Document(ctx, crm, objectName)
	if err != nil {
		return err
	}
	return writeDocument(w, doc)
}
