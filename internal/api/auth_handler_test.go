package api

import (
	"net/http"
	"testing"

	"placementPortal/internal/database"
	"placementPortal/internal/database/dbtest"
	"placementPortal/internal/roles"
)

const strongPassword = "Str0ng!pass"

func TestRegisterLoginMe(t *testing.T) {
	env := newTestEnv(t)

	w := env.json(http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email":     "Asha@VVCE.ac.in",
		"password":  strongPassword,
		"full_name": "Asha Rao",
		"year":      3,
		"branch":    "CSE",
	})
	expectStatus(t, w, http.StatusCreated)
	created := decode[profileResponse](t, w)
	if created.Email != "asha@vvce.ac.in" {
		t.Fatalf("expected normalized email got %q", created.Email)
	}
	if len(created.Roles) != 1 || created.Roles[0] != string(roles.Student) {
		t.Fatalf("expected student role got %v", created.Roles)
	}

	w = env.json(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "asha@vvce.ac.in",
		"password": strongPassword,
	})
	expectStatus(t, w, http.StatusOK)
	tokens := decode[tokenResponse](t, w)
	if tokens.AccessToken == "" {
		t.Fatalf("expected access token")
	}

	w = env.json(http.MethodGet, "/v1/me", tokens.AccessToken, nil)
	expectStatus(t, w, http.StatusOK)
	me := decode[profileResponse](t, w)
	if me.ID != created.ID || me.FullName != "Asha Rao" {
		t.Fatalf("unexpected profile %+v", me)
	}
}

func TestRegister_RejectsOtherDomain(t *testing.T) {
	env := newTestEnv(t)

	w := env.json(http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email":     "someone@gmail.com",
		"password":  strongPassword,
		"full_name": "Someone",
	})
	expectStatus(t, w, http.StatusBadRequest)
}

func TestRegister_WeakPassword(t *testing.T) {
	env := newTestEnv(t)

	w := env.json(http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email":     "weak@vvce.ac.in",
		"password":  "password",
		"full_name": "Weak",
	})
	expectStatus(t, w, http.StatusBadRequest)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.seed(dbtest.Student{Email: "dup@vvce.ac.in", Roles: []string{"student"}})

	w := env.json(http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email":     "dup@vvce.ac.in",
		"password":  strongPassword,
		"full_name": "Dup",
	})
	expectStatus(t, w, http.StatusConflict)
}

func TestLogin_WrongPasswordAndLockout(t *testing.T) {
	env := newTestEnv(t)

	w := env.json(http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email":     "lock@vvce.ac.in",
		"password":  strongPassword,
		"full_name": "Lock",
	})
	expectStatus(t, w, http.StatusCreated)

	// 阈值为 3 次。
	for i := 0; i < 3; i++ {
		w = env.json(http.MethodPost, "/v1/auth/login", "", map[string]string{
			"email":    "lock@vvce.ac.in",
			"password": "Wr0ng!pass",
		})
		expectStatus(t, w, http.StatusUnauthorized)
		if msg := errorMessage(t, w); msg != "invalid email or password" {
			t.Fatalf("unexpected message %q", msg)
		}
	}

	w = env.json(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "lock@vvce.ac.in",
		"password": strongPassword,
	})
	expectStatus(t, w, http.StatusTooManyRequests)
}

func TestLogin_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	w := env.json(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "ghost@vvce.ac.in",
		"password": strongPassword,
	})
	expectStatus(t, w, http.StatusUnauthorized)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)

	w := env.json(http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email":     "change@vvce.ac.in",
		"password":  strongPassword,
		"full_name": "Change",
	})
	expectStatus(t, w, http.StatusCreated)
	id := decode[profileResponse](t, w).ID
	token := env.token(id)

	w = env.json(http.MethodPost, "/v1/auth/change-password", token, map[string]string{
		"current_password": "Wr0ng!pass",
		"new_password":     "N3w!password",
	})
	expectStatus(t, w, http.StatusBadRequest)

	w = env.json(http.MethodPost, "/v1/auth/change-password", token, map[string]string{
		"current_password": strongPassword,
		"new_password":     "N3w!password",
	})
	expectStatus(t, w, http.StatusOK)

	w = env.json(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "change@vvce.ac.in",
		"password": "N3w!password",
	})
	expectStatus(t, w, http.StatusOK)
}

func TestMe_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.json(http.MethodGet, "/v1/me", "", nil)
	expectStatus(t, w, http.StatusUnauthorized)

	w = env.json(http.MethodGet, "/v1/me", "not-a-token", nil)
	expectStatus(t, w, http.StatusUnauthorized)
}

func TestRolesAreResolvedPerRequest(t *testing.T) {
	env := newTestEnv(t)
	user, token := env.seed(dbtest.Student{Email: "promote@vvce.ac.in", Roles: []string{"student"}})

	w := env.json(http.MethodGet, "/v1/admin/users", token, nil)
	expectStatus(t, w, http.StatusForbidden)

	// 同一令牌在角色变更后立即生效。
	if err := env.db.Create(&database.UserRole{UserID: user.ID, Role: string(roles.Admin)}).Error; err != nil {
		t.Fatalf("grant admin: %v", err)
	}
	w = env.json(http.MethodGet, "/v1/admin/users", token, nil)
	expectStatus(t, w, http.StatusOK)
}
