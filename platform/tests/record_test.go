package tests

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"sovrium/platform/tables"
)

func TestLookupFieldResolvesOnRead(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	schema := documentsSchema()
	schema.Fields = append(schema.Fields, tables.FieldSpec{
		Name: "author_name", Type: tables.TypeLookup, Target: "_sovrium_auth_users.name",
	})

	tableId, err := admin.deployTable(schema)
	if err != nil {
		t.Fatal(err)
	}

	recordId, err := admin.createRecord(tableId, map[string]interface{}{"title": "hello"})
	if err != nil {
		t.Fatal(err)
	}

	record, err := admin.getRecord(tableId, recordId)
	if err != nil {
		t.Fatal(err)
	}
	if record["author_name"] != adminName {
		t.Fatalf("lookup field should resolve the author's name, got %v", record)
	}

	records, err := admin.listRecords(tableId)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0]["author_name"] != adminName {
		t.Fatalf("lookup field should resolve in lists too, got %v", records)
	}

	// Lookup fields are derived and therefore not writable.
	err = admin.Post(fmt.Sprintf("/tables/%v/records", tableId)).
		Json(map[string]interface{}{"title": "x", "author_name": "forged"}).
		Expect(http.StatusCreated).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("writing a lookup field should be rejected with 400: %v", err)
	}
}

func TestRecordCrud(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	tableId, err := admin.deployTable(documentsSchema())
	if err != nil {
		t.Fatal(err)
	}

	recordId, err := admin.createRecord(tableId, map[string]interface{}{
		"title": "hello", "body": "world", "state": "draft",
	})
	if err != nil {
		t.Fatal(err)
	}

	record, err := admin.getRecord(tableId, recordId)
	if err != nil {
		t.Fatal(err)
	}
	if record["title"] != "hello" || record["state"] != "draft" {
		t.Fatalf("unexpected record %v", record)
	}
	if record["author"] != admin.userId {
		t.Fatalf("created-by field should hold the caller: %v", record)
	}

	if err := admin.updateRecord(tableId, recordId, map[string]interface{}{"state": "published"}); err != nil {
		t.Fatal(err)
	}

	record, err = admin.getRecord(tableId, recordId)
	if err != nil {
		t.Fatal(err)
	}
	if record["state"] != "published" {
		t.Fatalf("update not applied: %v", record)
	}

	records, err := admin.listRecords(tableId)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	if err := admin.deleteRecord(tableId, recordId); err != nil {
		t.Fatal(err)
	}

	_, err = admin.getRecord(tableId, recordId)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("deleted record should 404: %v", err)
	}
}

func TestRecordValidation(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	tableId, err := admin.deployTable(documentsSchema())
	if err != nil {
		t.Fatal(err)
	}

	// Missing required field.
	_, err = admin.createRecord(tableId, map[string]interface{}{"body": "no title"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("missing required field should 400: %v", err)
	}

	// Unknown field.
	_, err = admin.createRecord(tableId, map[string]interface{}{"title": "a", "bogus": 1})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("unknown field should 400: %v", err)
	}

	// Status value outside the declared options.
	_, err = admin.createRecord(tableId, map[string]interface{}{"title": "a", "state": "bogus"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("invalid status value should 400: %v", err)
	}
	if !strings.Contains(err.Error(), "check constraint") {
		t.Fatalf("status rejection should read as a constraint violation: %v", err)
	}

	// created-by is never writable.
	_, err = admin.createRecord(tableId, map[string]interface{}{"title": "a", "author": admin.userId})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("writing created-by should 400: %v", err)
	}
}

func TestUniqueFieldConflict(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	schema := tables.TableSchema{
		Name: "contacts",
		Fields: []tables.FieldSpec{
			{Name: "email", Type: tables.TypeEmail, Required: true, Unique: true},
		},
	}

	tableId, err := admin.deployTable(schema)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := admin.createRecord(tableId, map[string]interface{}{"email": "a@mail.com"}); err != nil {
		t.Fatal(err)
	}

	_, err = admin.createRecord(tableId, map[string]interface{}{"email": "a@mail.com"})
	if err == nil || !strings.Contains(err.Error(), "409") {
		t.Fatalf("duplicate unique value should 409: %v", err)
	}

	// Malformed email is caught before it reaches the database.
	_, err = admin.createRecord(tableId, map[string]interface{}{"email": "not-an-email"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("invalid email should 400: %v", err)
	}
}

func TestViewerIsReadOnly(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	viewer, err := env.newUser("viewer")
	if err != nil {
		t.Fatal(err)
	}

	orgId, err := owner.createOrg("Acme", "acme")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(orgId, viewer.userId, "viewer"); err != nil {
		t.Fatal(err)
	}

	tableId, err := admin.deployOrgTable(orgId, documentsSchema())
	if err != nil {
		t.Fatal(err)
	}

	recordId, err := owner.createRecord(tableId, map[string]interface{}{"title": "hello"})
	if err != nil {
		t.Fatal(err)
	}

	// Viewers read.
	if _, err := viewer.getRecord(tableId, recordId); err != nil {
		t.Fatal(err)
	}

	// But never write.
	_, err = viewer.createRecord(tableId, map[string]interface{}{"title": "nope"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("viewer create should be forbidden: %v", err)
	}
	err = viewer.updateRecord(tableId, recordId, map[string]interface{}{"title": "nope"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("viewer update should be forbidden: %v", err)
	}
	err = viewer.deleteRecord(tableId, recordId)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("viewer delete should be forbidden: %v", err)
	}
}

func TestFieldWritePermissions(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	member, err := env.newUser("member")
	if err != nil {
		t.Fatal(err)
	}

	orgId, err := owner.createOrg("Acme", "acme")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(orgId, member.userId, "member"); err != nil {
		t.Fatal(err)
	}

	schema := tables.TableSchema{
		Name: "tickets",
		Fields: []tables.FieldSpec{
			{Name: "subject", Type: tables.TypeSingleLineText},
			{Name: "priority", Type: tables.TypeInteger, WriteRoles: []string{"owner", "admin"}},
		},
	}

	tableId, err := admin.deployOrgTable(orgId, schema)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := member.createRecord(tableId, map[string]interface{}{"subject": "help"}); err != nil {
		t.Fatal(err)
	}

	_, err = member.createRecord(tableId, map[string]interface{}{"subject": "help", "priority": 1})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("member writing a restricted field should be forbidden: %v", err)
	}

	if _, err := owner.createRecord(tableId, map[string]interface{}{"subject": "help", "priority": 1}); err != nil {
		t.Fatal(err)
	}
}

func TestBatchCreateBestEffort(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	tableId, err := admin.deployTable(documentsSchema())
	if err != nil {
		t.Fatal(err)
	}

	body := map[string]interface{}{
		"records": []map[string]interface{}{
			{"title": "one"},
			{"body": "missing title"},
			{"title": "three"},
		},
	}

	var res map[string][]tables.BatchItemResult
	err = admin.Post(fmt.Sprintf("/tables/%v/records/batch", tableId)).
		Json(body).Expect(http.StatusMultiStatus).Do(&res)
	if err != nil {
		t.Fatal(err)
	}

	results := res["results"]
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Status != 201 || results[2].Status != 201 {
		t.Fatalf("valid items should commit independently: %v", results)
	}
	if results[1].Status != 400 || results[1].Error == nil || results[1].Error.Code != "required" {
		t.Fatalf("invalid item should fail alone with a coded error: %v", results[1])
	}

	records, err := admin.listRecords(tableId)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 committed records, got %d", len(records))
	}
}

func TestBatchCreateAtomic(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	tableId, err := admin.deployTable(documentsSchema())
	if err != nil {
		t.Fatal(err)
	}

	body := map[string]interface{}{
		"atomic": true,
		"records": []map[string]interface{}{
			{"title": "one"},
			{"title": "two"},
			{"body": "missing title"},
		},
	}

	var failure map[string]interface{}
	err = admin.Post(fmt.Sprintf("/tables/%v/records/batch", tableId)).
		Json(body).Expect(http.StatusConflict).Do(&failure)
	if err != nil {
		t.Fatal(err)
	}

	if failure["failedAtIndex"] != float64(2) {
		t.Fatalf("expected failure at index 2: %v", failure)
	}
	if failure["recordsRolledBack"] != float64(2) {
		t.Fatalf("expected 2 rolled back records: %v", failure)
	}

	records, err := admin.listRecords(tableId)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("atomic failure should leave nothing committed, got %d records", len(records))
	}

	// The same batch without the invalid item commits everything.
	ok := map[string]interface{}{
		"atomic": true,
		"records": []map[string]interface{}{
			{"title": "one"},
			{"title": "two"},
		},
	}
	err = admin.Post(fmt.Sprintf("/tables/%v/records/batch", tableId)).
		Json(ok).Expect(http.StatusCreated).Do(nil)
	if err != nil {
		t.Fatal(err)
	}

	records, err = admin.listRecords(tableId)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

func TestBatchDelete(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	tableId, err := admin.deployTable(documentsSchema())
	if err != nil {
		t.Fatal(err)
	}

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := admin.createRecord(tableId, map[string]interface{}{"title": fmt.Sprintf("doc%d", i)})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	// A missing id rolls back the whole batch.
	missing := append([]string{}, ids...)
	missing[1] = "00000000-0000-0000-0000-000000000000"
	err = admin.Delete(fmt.Sprintf("/tables/%v/records/batch", tableId)).
		Json(map[string]interface{}{"ids": missing}).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("missing id should 404: %v", err)
	}

	records, err := admin.listRecords(tableId)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("failed batch delete should delete nothing, got %d records", len(records))
	}

	var res map[string]int
	err = admin.Delete(fmt.Sprintf("/tables/%v/records/batch", tableId)).
		Json(map[string]interface{}{"ids": ids}).Do(&res)
	if err != nil {
		t.Fatal(err)
	}
	if res["deleted"] != 3 {
		t.Fatalf("expected 3 deleted, got %d", res["deleted"])
	}

	records, err = admin.listRecords(tableId)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty table, got %d records", len(records))
	}
}
