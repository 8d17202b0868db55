package exporter

import (
	"context"

	"github.com/fozzylyon/sf-schemas/internal/salesforce"
	"github.com/fozzylyon/sf-schemas/internal/schema"
)

// describer memoizes describe results for the lifetime of one run, so an
// object referenced from many fields is fetched once. Not-found answers are
// remembered too; other errors are not.
type describer struct {
	crm      CRM
	cache    map[string][]schema.Field
	notFound map[string]error
}

func newDescriber(crm CRM) *describer {
	return &describer{
		crm:      crm,
		cache:    make(map[string][]schema.Field),
		notFound: make(map[string]error),
	}
}

func (d *describer) describe(ctx context.Context, objectName string) ([]schema.Field, error) {
	if fields, ok := d.cache[objectName]; ok {
		return fields, nil
	}
	if err, ok := d.notFound[objectName]; ok {
		return nil, err
	}
	fields, err := d.crm.Describe(ctx, objectName)
	if err != nil {
		if salesforce.IsNotFound(err) {
			d.notFound[objectName] = err
		}
		return nil, err
	}
	d.cache[objectName] = fields
	return fields, nil
}

// document returns the object's own fields followed by the fields of every
// object its reference fields point at, renamed "<local>.<field>" and
// marked nested. Only one level is flattened and self references are
// ignored.
func (d *describer) document(ctx context.Context, objectName string) (*schema.Document, error) {
	base, err := d.describe(ctx, objectName)
	if err != nil {
		return nil, err
	}

	fields := make([]schema.Field, 0, len(base))
	fields = append(fields, base...)

	for _, f := range base {
		if !f.IsReference() {
			continue
		}
		prefix := schema.LocalName(f.Name)
		for _, ref := range f.ReferenceTo {
			if ref == objectName {
				continue
			}
			sub, err := d.describe(ctx, ref)
			if err != nil {
				return nil, err
			}
			for _, sf := range sub {
				fields = append(fields, sf.AsNested(prefix))
			}
		}
	}

	return &schema.Document{Object: objectName, Fields: fields}, nil
}
