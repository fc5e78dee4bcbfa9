package tests

import (
	"fmt"
	"strings"
	"testing"
)

func TestActivityLog(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	member, err := env.newUser("member")
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
	if err := owner.addMember(orgId, member.userId, "member"); err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(orgId, viewer.userId, "viewer"); err != nil {
		t.Fatal(err)
	}

	var entries []map[string]interface{}
	if err := member.Get(fmt.Sprintf("/activity/%v", orgId)).Do(&entries); err != nil {
		t.Fatal(err)
	}

	// create + 2 member additions, newest first
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d: %v", len(entries), entries)
	}
	if entries[2]["action"] != "organization.create" {
		t.Fatalf("oldest entry should be the creation: %v", entries)
	}
	if entries[0]["action"] != "member.add" || entries[0]["user_id"] != owner.userId {
		t.Fatalf("unexpected newest entry %v", entries[0])
	}
}

func TestActivityLogAccess(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	viewer, err := env.newUser("viewer")
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
	if err := owner.addMember(orgId, viewer.userId, "viewer"); err != nil {
		t.Fatal(err)
	}

	// Viewers are denied but learn the organization exists.
	err = viewer.Get(fmt.Sprintf("/activity/%v", orgId)).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("viewer should be forbidden: %v", err)
	}

	// Outsiders cannot tell the organization from a missing one.
	err = outsider.Get(fmt.Sprintf("/activity/%v", orgId)).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("outsider should see 404: %v", err)
	}
}
