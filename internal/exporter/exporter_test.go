package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/fozzylyon/sf-schemas/internal/history"
	"github.com/fozzylyon/sf-schemas/internal/salesforce"
	"github.com/fozzylyon/sf-schemas/internal/schema"
)

// fakeCRM serves canned describe results and counts calls.
type fakeCRM struct {
	objects   map[string][]schema.Field
	failOn    map[string]error
	authErr   error
	authCalls int
	calls     map[string]int
	order     []string
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		objects: map[string][]schema.Field{},
		failOn:  map[string]error{},
		calls:   map[string]int{},
	}
}

func (f *fakeCRM) Authenticate(context.Context) error {
	f.authCalls++
	return f.authErr
}

func (f *fakeCRM) Describe(_ context.Context, name string) ([]schema.Field, error) {
	f.calls[name]++
	f.order = append(f.order, name)
	if err, ok := f.failOn[name]; ok {
		return nil, err
	}
	fields, ok := f.objects[name]
	if !ok {
		return nil, fmt.Errorf("describe %s: %w", name, &salesforce.APIError{StatusCode: 404, Code: salesforce.CodeNotFound, Message: "The requested resource does not exist"})
	}
	return fields, nil
}

func (f *fakeCRM) totalCalls() int {
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type memObject struct {
	data        []byte
	contentType string
}

// memStore is an in-memory storage.Backend.
type memStore struct {
	objects map[string]memObject
	puts    []string
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string]memObject{}}
}

func (m *memStore) GetObject(_ context.Context, key string) (io.ReadCloser, int64, error) {
	obj, ok := m.objects[key]
	if !ok {
		return nil, 0, fmt.Errorf("get %s: %w", key, fs.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), int64(len(obj.data)), nil
}

func (m *memStore) PutObject(_ context.Context, key string, body io.Reader, _ int64, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = memObject{data: data, contentType: contentType}
	m.puts = append(m.puts, key)
	return nil
}

func (m *memStore) ListObjects(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memStore) Type() string { return "memory" }
func (m *memStore) Close() error { return nil }

func (m *memStore) document(t *testing.T, key string) []schema.Field {
	t.Helper()
	obj, ok := m.objects[key]
	if !ok {
		t.Fatalf("no object at %s", key)
	}
	var fields []schema.Field
	if err := json.Unmarshal(obj.data, &fields); err != nil {
		t.Fatalf("decode %s: %v", key, err)
	}
	return fields
}

type fakeRecorder struct {
	entries []history.Entry
	err     error
}

func (r *fakeRecorder) Record(_ context.Context, e history.Entry) error {
	r.entries = append(r.entries, e)
	return r.err
}

func field(name, typ string, refs ...string) schema.Field {
	if refs == nil {
		refs = []string{}
	}
	return schema.Field{Name: name, Label: name, Type: typ, ReferenceTo: refs}
}

func names(fields []schema.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

func newExporter(t *testing.T, crm CRM, store *memStore, rec Recorder) *Exporter {
	t.Helper()
	cfg := Config{Folder: "schemas", Version: "v1"}
	if rec != nil {
		cfg.Recorder = rec
	}
	e, err := New(crm, store, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNew_RequiresVersion(t *testing.T) {
	if _, err := New(newFakeCRM(), newMemStore(), Config{Folder: "schemas"}); err == nil {
		t.Fatal("expected error for empty version")
	}
}

func TestNew_RejectsVersionOutsideFolder(t *testing.T) {
	for _, v := range []string{"..", "../other", "v1/extra"} {
		if _, err := New(newFakeCRM(), newMemStore(), Config{Folder: "schemas", Version: v}); err == nil {
			t.Errorf("expected error for version %q", v)
		}
	}
}

func TestRun_FlattensReferencedObject(t *testing.T) {
	crm := newFakeCRM()
	crm.objects["Contact"] = []schema.Field{
		field("Id", "id"),
		field("AccountId", "reference", "Account"),
		field("Email", "email"),
	}
	crm.objects["Account"] = []schema.Field{
		field("Id", "id"),
		field("Name", "string"),
	}
	store := newMemStore()

	res, err := newExporter(t, crm, store, nil).Run(context.Background(), []string{"Contact"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(res.Uploaded, []string{"schemas/v1/Contact.json"}) {
		t.Fatalf("unexpected uploads: %v", res.Uploaded)
	}

	fields := store.document(t, "schemas/v1/Contact.json")
	want := []string{"Id", "AccountId", "Email", "Account.Id", "Account.Name"}
	if got := names(fields); !reflect.DeepEqual(got, want) {
		t.Errorf("field names = %v, want %v", got, want)
	}
	for _, f := range fields[:3] {
		if f.Nested {
			t.Errorf("base field %s marked nested", f.Name)
		}
	}
	for _, f := range fields[3:] {
		if !f.Nested {
			t.Errorf("field %s should be nested", f.Name)
		}
	}
	if ct := store.objects["schemas/v1/Contact.json"].contentType; ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
}

func TestRun_SelfReferenceIsNotFlattened(t *testing.T) {
	crm := newFakeCRM()
	crm.objects["Account"] = []schema.Field{
		field("Id", "id"),
		field("ParentId", "reference", "Account"),
		field("Name", "string"),
	}
	store := newMemStore()

	if _, err := newExporter(t, crm, store, nil).Run(context.Background(), []string{"Account"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if crm.calls["Account"] != 1 || crm.totalCalls() != 1 {
		t.Errorf("expected a single describe of Account, got %v", crm.calls)
	}
	want := []string{"Id", "ParentId", "Name"}
	if got := names(store.document(t, "schemas/v1/Account.json")); !reflect.DeepEqual(got, want) {
		t.Errorf("field names = %v, want %v", got, want)
	}
}

func TestRun_CustomFieldPrefix(t *testing.T) {
	crm := newFakeCRM()
	crm.objects["Invoice__c"] = []schema.Field{
		field("Name", "string"),
		field("Customer__c", "reference", "Account"),
	}
	crm.objects["Account"] = []schema.Field{field("Name", "string")}
	store := newMemStore()

	if _, err := newExporter(t, crm, store, nil).Run(context.Background(), []string{"Invoice__c"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"Name", "Customer__c", "Customer__r.Name"}
	if got := names(store.document(t, "schemas/v1/Invoice__c.json")); !reflect.DeepEqual(got, want) {
		t.Errorf("field names = %v, want %v", got, want)
	}
}

func TestRun_NestedOrderFollowsEncounterOrder(t *testing.T) {
	crm := newFakeCRM()
	crm.objects["Task"] = []schema.Field{
		field("WhoId", "reference", "Contact", "Lead"),
		field("Subject", "string"),
		field("OwnerId", "reference", "User"),
	}
	crm.objects["Contact"] = []schema.Field{field("Email", "email")}
	crm.objects["Lead"] = []schema.Field{field("Company", "string")}
	crm.objects["User"] = []schema.Field{field("Alias", "string")}
	store := newMemStore()

	if _, err := newExporter(t, crm, store, nil).Run(context.Background(), []string{"Task"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"WhoId", "Subject", "OwnerId", "Who.Email", "Who.Company", "Owner.Alias"}
	if got := names(store.document(t, "schemas/v1/Task.json")); !reflect.DeepEqual(got, want) {
		t.Errorf("field names = %v, want %v", got, want)
	}
}

func TestRun_OneDocumentPerObjectAndMarker(t *testing.T) {
	crm := newFakeCRM()
	crm.objects["Account"] = []schema.Field{field("Name", "string")}
	crm.objects["Lead"] = []schema.Field{field("Company", "string")}
	store := newMemStore()

	res, err := newExporter(t, crm, store, nil).Run(context.Background(), []string{"Account", "Lead", "Account"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"schemas/v1/Account.json", "schemas/v1/Lead.json"}
	if !reflect.DeepEqual(res.Uploaded, want) {
		t.Errorf("uploaded = %v, want %v", res.Uploaded, want)
	}
	if res.MarkerKey != "schemas/v1/.version" {
		t.Errorf("unexpected marker key %q", res.MarkerKey)
	}
	if got := string(store.objects["schemas/v1/.version"].data); got != "v1" {
		t.Errorf("marker content = %q, want v1", got)
	}
	if last := store.puts[len(store.puts)-1]; last != "schemas/v1/.version" {
		t.Errorf("marker should be written last, last put was %s", last)
	}
	if crm.authCalls != 1 {
		t.Errorf("expected one authentication, got %d", crm.authCalls)
	}
}

func TestRun_NotFoundIsSkipped(t *testing.T) {
	crm := newFakeCRM()
	crm.objects["Account"] = []schema.Field{field("Name", "string")}
	crm.objects["Lead"] = []schema.Field{field("Company", "string")}
	store := newMemStore()

	res, err := newExporter(t, crm, store, nil).Run(context.Background(), []string{"Account", "Gone__c", "Lead"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(res.Skipped, []string{"Gone__c"}) {
		t.Errorf("skipped = %v", res.Skipped)
	}
	if len(res.Uploaded) != 2 {
		t.Errorf("expected 2 uploads, got %v", res.Uploaded)
	}
	if _, ok := store.objects["schemas/v1/Gone__c.json"]; ok {
		t.Error("skipped object should not be uploaded")
	}
}

func TestRun_NestedNotFoundSkipsParent(t *testing.T) {
	crm := newFakeCRM()
	crm.objects["Opportunity"] = []schema.Field{field("Partner__c", "reference", "Partner__c")}
	crm.objects["Account"] = []schema.Field{field("Name", "string")}
	store := newMemStore()

	res, err := newExporter(t, crm, store, nil).Run(context.Background(), []string{"Opportunity", "Account"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(res.Skipped, []string{"Opportunity"}) {
		t.Errorf("skipped = %v", res.Skipped)
	}
	if !reflect.DeepEqual(res.Uploaded, []string{"schemas/v1/Account.json"}) {
		t.Errorf("uploaded = %v", res.Uploaded)
	}
}

func TestRun_OtherErrorAborts(t *testing.T) {
	crm := newFakeCRM()
	crm.objects["Account"] = []schema.Field{field("Name", "string")}
	crm.objects["Lead"] = []schema.Field{field("Company", "string")}
	boom := &salesforce.APIError{StatusCode: 500, Code: "UNKNOWN_EXCEPTION", Message: "boom"}
	crm.failOn["Contact"] = boom
	store := newMemStore()

	res, err := newExporter(t, crm, store, nil).Run(context.Background(), []string{"Account", "Contact", "Lead"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped api error, got %v", err)
	}
	if !reflect.DeepEqual(res.Uploaded, []string{"schemas/v1/Account.json"}) {
		t.Errorf("uploaded = %v", res.Uploaded)
	}
	if crm.calls["Lead"] != 0 {
		t.Error("run should stop before Lead")
	}
	if _, ok := store.objects["schemas/v1/.version"]; ok {
		t.Error("marker must not be written on a failed run")
	}
}

func TestRun_AuthFailureIsFatal(t *testing.T) {
	crm := newFakeCRM()
	crm.authErr = &salesforce.AuthError{StatusCode: 400, Code: "invalid_grant", Description: "authentication failure"}
	store := newMemStore()

	_, err := newExporter(t, crm, store, nil).Run(context.Background(), []string{"Account"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if crm.totalCalls() != 0 {
		t.Errorf("no describe expected after failed auth, got %v", crm.calls)
	}
	if len(store.puts) != 0 {
		t.Errorf("no uploads expected, got %v", store.puts)
	}
}

func TestRun_UploadErrorAborts(t *testing.T) {
	crm := newFakeCRM()
	crm.objects["Account"] = []schema.Field{field("Name", "string")}
	store := newMemStore()
	store.putErr = errors.New("access denied")

	if _, err := newExporter(t, crm, store, nil).Run(context.Background(), []string{"Account"}); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRun_NothingExportedWritesNoMarker(t *testing.T) {
	store := newMemStore()
	res, err := newExporter(t, newFakeCRM(), store, nil).Run(context.Background(), []string{"Gone__c"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.MarkerKey != "" || len(store.puts) != 0 {
		t.Errorf("expected no writes, got %v", store.puts)
	}
}

func TestRun_ReferencedObjectDescribedOnce(t *testing.T) {
	crm := newFakeCRM()
	crm.objects["Contact"] = []schema.Field{field("AccountId", "reference", "Account")}
	crm.objects["Opportunity"] = []schema.Field{field("AccountId", "reference", "Account")}
	crm.objects["Account"] = []schema.Field{field("Name", "string")}

	if _, err := newExporter(t, crm, newMemStore(), nil).Run(context.Background(), []string{"Contact", "Opportunity", "Account"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if crm.calls["Account"] != 1 {
		t.Errorf("expected Account to be described once, got %d", crm.calls["Account"])
	}
}

func TestRun_MissingReferenceDescribedOnce(t *testing.T) {
	crm := newFakeCRM()
	crm.objects["Opportunity"] = []schema.Field{field("Partner__c", "reference", "Partner__c")}
	crm.objects["Case"] = []schema.Field{field("Partner__c", "reference", "Partner__c")}

	res, err := newExporter(t, crm, newMemStore(), nil).Run(context.Background(), []string{"Opportunity", "Case", "Partner__c"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(res.Skipped, []string{"Opportunity", "Case", "Partner__c"}) {
		t.Errorf("skipped = %v", res.Skipped)
	}
	if crm.calls["Partner__c"] != 1 {
		t.Errorf("expected Partner__c to be described once, got %d", crm.calls["Partner__c"])
	}
}

func TestDescriber_RetriesOtherErrors(t *testing.T) {
	crm := newFakeCRM()
	crm.objects["Account"] = []schema.Field{field("Name", "string")}
	crm.failOn["Account"] = errors.New("connection reset")
	d := newDescriber(crm)

	if _, err := d.describe(context.Background(), "Account"); err == nil {
		t.Fatal("expected error")
	}
	delete(crm.failOn, "Account")
	if _, err := d.describe(context.Background(), "Account"); err != nil {
		t.Fatalf("second describe: %v", err)
	}
	if crm.calls["Account"] != 2 {
		t.Errorf("expected 2 describe calls, got %d", crm.calls["Account"])
	}
}

func TestRun_RecordsHistory(t *testing.T) {
	crm := newFakeCRM()
	crm.objects["Contact"] = []schema.Field{field("AccountId", "reference", "Account")}
	crm.objects["Account"] = []schema.Field{field("Id", "id"), field("Name", "string")}
	rec := &fakeRecorder{err: errors.New("db down")}

	res, err := newExporter(t, crm, newMemStore(), rec).Run(context.Background(), []string{"Contact"})
	if err != nil {
		t.Fatalf("recorder failures must not fail the run: %v", err)
	}
	if len(res.Uploaded) != 1 {
		t.Fatalf("expected 1 upload, got %v", res.Uploaded)
	}
	if len(rec.entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(rec.entries))
	}
	e := rec.entries[0]
	if e.Object != "Contact" || e.Version != "v1" || e.FieldCount != 3 || e.NestedCount != 2 {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestDocument_DoesNotMutateDescribeResults(t *testing.T) {
	crm := newFakeCRM()
	crm.objects["Contact"] = []schema.Field{field("AccountId", "reference", "Account")}
	crm.objects["Account"] = []schema.Field{field("Name", "string")}

	doc, err := Document(context.Background(), crm, "Contact")
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if crm.authCalls != 1 {
		t.Errorf("expected one authentication, got %d", crm.authCalls)
	}
	if doc.Fields[1].Name != "Account.Name" {
		t.Fatalf("unexpected nested name %q", doc.Fields[1].Name)
	}
	if crm.objects["Account"][0].Name != "Name" || crm.objects["Account"][0].Nested {
		t.Errorf("describe result was modified: %+v", crm.objects["Account"][0])
	}
}
