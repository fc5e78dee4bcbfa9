package tests

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestBanUser(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	ban := map[string]string{"reason": "spam"}

	if err := user.Post(fmt.Sprintf("/admin/users/%v/ban", user.userId)).Json(ban).Do(nil); err == nil {
		t.Fatal("non-admins cannot ban users")
	}

	if err := admin.Post(fmt.Sprintf("/admin/users/%v/ban", user.userId)).Json(ban).Do(nil); err != nil {
		t.Fatal(err)
	}

	// The ban invalidates existing sessions immediately.
	if err := user.signout(); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("banned user's session should be rejected, got %v", err)
	}

	// get-session answers null for an absent session, but a token refused
	// because of a ban is a 401, not null.
	if _, err := user.getSession(); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("banned user's get-session should answer 401, got %v", err)
	}

	// And blocks new signins.
	err = env.newClient().signin(loginInfo{Email: "abc@mail.com", Password: "abc_password"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("banned user should not sign in, got %v", err)
	}

	// Banning an already banned user updates the ban and succeeds.
	ban["reason"] = "still spam"
	if err := admin.Post(fmt.Sprintf("/admin/users/%v/ban", user.userId)).Json(ban).Do(nil); err != nil {
		t.Fatal(err)
	}

	if err := admin.Post(fmt.Sprintf("/admin/users/%v/unban", user.userId)).Do(nil); err != nil {
		t.Fatal(err)
	}

	if err := env.newClient().signin(loginInfo{Email: "abc@mail.com", Password: "abc_password"}); err != nil {
		t.Fatalf("unbanned user should sign in again: %v", err)
	}
}

func TestAdminCannotBanSelf(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	err = admin.Post(fmt.Sprintf("/admin/users/%v/ban", admin.userId)).Json(map[string]string{"reason": "x"}).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("self ban should be rejected with 400: %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	err = admin.Delete(fmt.Sprintf("/admin/users/%v", admin.userId)).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("self delete should be rejected with 400: %v", err)
	}

	if err := admin.Delete(fmt.Sprintf("/admin/users/%v", user.userId)).Do(nil); err != nil {
		t.Fatal(err)
	}

	err = env.newClient().signin(loginInfo{Email: "abc@mail.com", Password: "abc_password"})
	if err == nil {
		t.Fatal("deleted user should not sign in")
	}

	err = admin.Delete(fmt.Sprintf("/admin/users/%v", user.userId)).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("deleting a missing user should 404: %v", err)
	}
}

func TestSetRole(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	promote := map[string]bool{"is_admin": true}
	demote := map[string]bool{"is_admin": false}

	if err := admin.Post(fmt.Sprintf("/admin/users/%v/role", user.userId)).Json(promote).Do(nil); err != nil {
		t.Fatal(err)
	}

	// Promoted user can now use admin routes.
	if err := user.Get("/admin/users").Do(nil); err != nil {
		t.Fatal(err)
	}

	err = user.Post(fmt.Sprintf("/admin/users/%v/role", user.userId)).Json(demote).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("self demotion should be rejected with 400: %v", err)
	}

	if err := admin.Post(fmt.Sprintf("/admin/users/%v/role", user.userId)).Json(demote).Do(nil); err != nil {
		t.Fatal(err)
	}

	if err := user.Get("/admin/users").Do(nil); err == nil {
		t.Fatal("demoted user should lose admin routes")
	}
}

func TestImpersonate(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	var res map[string]string
	if err := admin.Post(fmt.Sprintf("/admin/users/%v/impersonate", user.userId)).Do(&res); err != nil {
		t.Fatal(err)
	}

	impersonated := env.newClient()
	impersonated.authToken = res["token"]

	session, err := impersonated.getSession()
	if err != nil {
		t.Fatal(err)
	}
	if session["user_id"] != user.userId {
		t.Fatalf("impersonated session should act as the user: %v", session)
	}
	if session["impersonated_by"] != admin.userId {
		t.Fatalf("impersonated session should record the admin: %v", session)
	}

	err = admin.Post(fmt.Sprintf("/admin/users/%v/impersonate", admin.userId)).Do(nil)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("self impersonation should be rejected with 400: %v", err)
	}
}
