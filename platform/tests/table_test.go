package tests

import (
	"fmt"
	"strings"
	"testing"

	"sovrium/platform/tables"
)

func documentsSchema() tables.TableSchema {
	return tables.TableSchema{
		Name: "documents",
		Fields: []tables.FieldSpec{
			{Name: "title", Type: tables.TypeSingleLineText, Required: true},
			{Name: "body", Type: tables.TypeLongText},
			{Name: "state", Type: tables.TypeStatus, Options: []tables.StatusOption{
				{Value: "draft", Label: "Draft"},
				{Value: "published", Label: "Published"},
			}},
			{Name: "author", Type: tables.TypeCreatedBy},
		},
	}
}

func TestDeployTable(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := user.deployTable(documentsSchema()); err == nil {
		t.Fatal("non-admins cannot deploy tables")
	}

	tableId, err := admin.deployTable(documentsSchema())
	if err != nil {
		t.Fatal(err)
	}

	info, err := admin.tableInfo(tableId)
	if err != nil {
		t.Fatal(err)
	}
	if info["name"] != "documents" {
		t.Fatalf("unexpected table info %v", info)
	}
	fields := info["fields"].([]interface{})
	if len(fields) != 4 {
		t.Fatalf("expected 4 fields, got %d", len(fields))
	}
}

func TestRedeployUnchangedSchemaIsNoop(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := admin.deployTable(documentsSchema()); err != nil {
		t.Fatal(err)
	}

	var res map[string]interface{}
	body := map[string]interface{}{"schema": documentsSchema()}
	if err := admin.Post("/tables").Json(body).Do(&res); err != nil {
		t.Fatal(err)
	}

	migration := res["migration"].(map[string]interface{})
	applied := migration["applied"].([]interface{})
	if len(applied) != 0 {
		t.Fatalf("unchanged schema should apply nothing, applied %v", applied)
	}
}

func TestDeploySchemaEvolution(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	tableId, err := admin.deployTable(documentsSchema())
	if err != nil {
		t.Fatal(err)
	}

	// Add a field and an index.
	evolved := documentsSchema()
	evolved.Fields = append(evolved.Fields, tables.FieldSpec{
		Name: "views", Type: tables.TypeInteger, Default: "0", Indexed: true,
	})

	var res map[string]interface{}
	if err := admin.Post("/tables").Json(map[string]interface{}{"schema": evolved}).Do(&res); err != nil {
		t.Fatal(err)
	}
	migration := res["migration"].(map[string]interface{})
	if len(migration["applied"].([]interface{})) == 0 {
		t.Fatal("schema change should apply operations")
	}

	info, err := admin.tableInfo(tableId)
	if err != nil {
		t.Fatal(err)
	}
	if len(info["fields"].([]interface{})) != 5 {
		t.Fatalf("expected 5 fields after evolution: %v", info["fields"])
	}
}

func TestInvalidSchemaRejected(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	bad := tables.TableSchema{
		Name: "documents",
		Fields: []tables.FieldSpec{
			{Name: "title", Type: "mystery-type"},
		},
	}

	_, err = admin.deployTable(bad)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("unknown field type should be rejected with 400: %v", err)
	}

	injection := tables.TableSchema{
		Name: `docs"; DROP TABLE users; --`,
		Fields: []tables.FieldSpec{
			{Name: "title", Type: tables.TypeSingleLineText},
		},
	}

	_, err = admin.deployTable(injection)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("invalid identifier should be rejected with 400: %v", err)
	}
}

func TestOrgScopedTableMasking(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	outsider, err := env.newUser("outsider")
	if err != nil {
		t.Fatal(err)
	}

	orgId, err := owner.createOrg("Acme", "acme")
	if err != nil {
		t.Fatal(err)
	}

	tableId, err := admin.deployOrgTable(orgId, documentsSchema())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := owner.tableInfo(tableId); err != nil {
		t.Fatal(err)
	}

	// The outsider cannot distinguish the table from a missing one.
	_, err = outsider.tableInfo(tableId)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("cross-org table access should 404: %v", err)
	}
}

func TestFieldReadPermissionFiltering(t *testing.T) {
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

	schema := tables.TableSchema{
		Name: "salaries",
		Fields: []tables.FieldSpec{
			{Name: "employee", Type: tables.TypeSingleLineText},
			{Name: "amount", Type: tables.TypeInteger, ReadRoles: []string{"owner", "admin"}},
		},
	}

	tableId, err := admin.deployOrgTable(orgId, schema)
	if err != nil {
		t.Fatal(err)
	}

	fieldNames := func(c *client) []string {
		info, err := c.tableInfo(tableId)
		if err != nil {
			t.Fatal(err)
		}
		var names []string
		for _, f := range info["fields"].([]interface{}) {
			names = append(names, f.(map[string]interface{})["name"].(string))
		}
		return names
	}

	ownerFields := fieldNames(owner)
	if len(ownerFields) != 2 {
		t.Fatalf("owner should see both fields, saw %v", ownerFields)
	}

	// Restricted fields are absent for viewers, not an error.
	viewerFields := fieldNames(viewer)
	if len(viewerFields) != 1 || viewerFields[0] != "employee" {
		t.Fatalf("viewer should only see unrestricted fields, saw %v", viewerFields)
	}
}

func TestDeleteTable(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	tableId, err := admin.deployTable(documentsSchema())
	if err != nil {
		t.Fatal(err)
	}

	if err := admin.Delete(fmt.Sprintf("/tables/%v", tableId)).Do(nil); err != nil {
		t.Fatal(err)
	}

	_, err = admin.tableInfo(tableId)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("deleted table should 404: %v", err)
	}
}
