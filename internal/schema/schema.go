// Package schema defines field descriptors and the per-object schema
// document written to the blob store.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Extension is the file extension of a schema document.
const Extension = ".json"

// TypeReference is the field type of a lookup/master-detail field.
const TypeReference = "reference"

// PicklistValue is one entry of a picklist field.
type PicklistValue struct {
	Value        string `json:"value"`
	Label        string `json:"label"`
	Active       bool   `json:"active"`
	DefaultValue bool   `json:"defaultValue"`
}

// Field describes one field of a CRM object. Nested fields come from a
// referenced object and carry a dotted name.
type Field struct {
	Name                string          `json:"name"`
	Label               string          `json:"label"`
	Type                string          `json:"type"`
	Length              int             `json:"length"`
	Nillable            bool            `json:"nillable"`
	Createable          bool            `json:"createable"`
	Updateable          bool            `json:"updateable"`
	Filterable          bool            `json:"filterable"`
	Calculated          bool            `json:"calculated"`
	Required            bool            `json:"required"`
	DefaultValue        json.RawMessage `json:"defaultValue"`
	PicklistValues      []PicklistValue `json:"picklistValues"`
	ReferenceTo         []string        `json:"referenceTo"`
	RestrictedPicklist  bool            `json:"restrictedPicklist"`
	DeprecatedAndHidden bool            `json:"deprecatedAndHidden"`
	Nested              bool            `json:"nested,omitempty"`
}

// IsReference reports whether the field points at other objects.
func (f Field) IsReference() bool {
	return f.Type == TypeReference
}

// AsNested returns a copy of f renamed under prefix and marked nested.
// Slices are copied so the result shares nothing with f.
func (f Field) AsNested(prefix string) Field {
	n := f
	n.Name = prefix + "." + f.Name
	n.Nested = true
	if f.DefaultValue != nil {
		n.DefaultValue = append(json.RawMessage(nil), f.DefaultValue...)
	}
	if f.PicklistValues != nil {
		n.PicklistValues = append([]PicklistValue(nil), f.PicklistValues...)
	}
	if f.ReferenceTo != nil {
		n.ReferenceTo = append([]string(nil), f.ReferenceTo...)
	}
	return n
}

// LocalName returns the relationship name used as the prefix of nested
// fields: "AccountId" becomes "Account" and "Owner__c" becomes "Owner__r".
// Names without either suffix, and the bare suffixes themselves, are
// returned unchanged.
func LocalName(fieldName string) string {
	switch {
	case len(fieldName) > len("__c") && strings.HasSuffix(fieldName, "__c"):
		return strings.TrimSuffix(fieldName, "__c") + "__r"
	case len(fieldName) > len("Id") && strings.HasSuffix(fieldName, "Id"):
		return strings.TrimSuffix(fieldName, "Id")
	default:
		return fieldName
	}
}

// FileName returns the document file name for an object.
func FileName(objectName string) string {
	return objectName + Extension
}

// ObjectName returns the object name for a document file name, and false
// if the name is not a schema document.
func ObjectName(fileName string) (string, bool) {
	if !strings.HasSuffix(fileName, Extension) || strings.HasPrefix(fileName, ".") {
		return "", false
	}
	name := strings.TrimSuffix(fileName, Extension)
	if name == "" {
		return "", false
	}
	return name, true
}

// Document is the ordered field list of one object.
type Document struct {
	Object string
	Fields []Field
}

// Marshal encodes the field list as indented JSON.
func (d *Document) Marshal() ([]byte, error) {
	fields := d.Fields
	if fields == nil {
		fields = []Field{}
	}
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", d.Object, err)
	}
	return data, nil
}

// NestedCount returns the number of nested fields in the document.
func (d *Document) NestedCount() int {
	n := 0
	for _, f := range d.Fields {
		if f.Nested {
			n++
		}
	}
	return n
}

// Unmarshal decodes a document previously written by Marshal.
func Unmarshal(objectName string, data []byte) (*Document, error) {
	var fields []Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode %s: %w", objectName, err)
	}
	return &Document{Object: objectName, Fields: fields}, nil
}
