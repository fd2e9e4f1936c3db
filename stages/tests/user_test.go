package tests

import (
	"errors"
	"fmt"
	"gestion_stages/stages/schema"
	"testing"
)

func TestSignupAndLogin(t *testing.T) {
	env := setupTestEnv(t)

	for i := 0; i < 5; i++ {
		username := fmt.Sprintf("user%d", i)
		email := fmt.Sprintf("user%d@mail.com", i)
		password := fmt.Sprintf("user%d_password", i)

		client := env.newClient()
		login, err := client.signup(username, email, password, schema.RoleEtudiant)
		if err != nil {
			t.Fatal(err)
		}

		_, err = client.signup(username, email, password, schema.RoleEtudiant)
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("duplicate signup should fail: %v", err)
		}

		err = client.login(loginInfo{Email: "user@mail.com", Password: password})
		if err == nil {
			t.Fatal("login should fail with wrong email")
		}

		err = client.login(loginInfo{Email: email, Password: "password"})
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatal("login should fail with wrong password")
		}

		err = client.login(login)
		if err != nil {
			t.Fatal(err)
		}

		info, err := client.userInfo()
		if err != nil {
			t.Fatal(err)
		}

		if info.Username != username || info.Email != email || info.Id.String() != client.userId || info.Role != schema.RoleEtudiant {
			t.Fatalf("invalid info %v", info)
		}
	}
}

func TestSignupCreatesProfile(t *testing.T) {
	env := setupTestEnv(t)

	etudiant, err := env.newEtudiant("abc")
	if err != nil {
		t.Fatal(err)
	}

	profile, err := etudiant.myEtudiant()
	if err != nil {
		t.Fatal(err)
	}
	if profile.Email != "abc@mail.com" {
		t.Fatalf("profile email should match the account email, got %v", profile.Email)
	}

	entreprise, err := env.newEntreprise("xyz")
	if err != nil {
		t.Fatal(err)
	}

	company, err := entreprise.myEntreprise()
	if err != nil {
		t.Fatal(err)
	}
	if company.EmailContact != "xyz@mail.com" {
		t.Fatalf("company contact email should match the account email, got %v", company.EmailContact)
	}
}

func TestSignupRejectsAdminRole(t *testing.T) {
	env := setupTestEnv(t)

	client := env.newClient()

	_, err := client.signup("sneaky", "sneaky@mail.com", "password", schema.RoleAdmin)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("admin signup should be rejected: %v", err)
	}

	_, err = client.signup("sneaky", "sneaky@mail.com", "password", "")
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("signup without a role should be rejected: %v", err)
	}
}

func TestAddUser(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newEtudiant("abc")
	if err != nil {
		t.Fatal(err)
	}

	client := env.newClient()

	_, err = user.addUser("xyz", "xyz@mail.com", "123", schema.RoleEtudiant)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("users cannot add users: %v", err)
	}

	_, err = admin.addUser("xyz", "xyz@mail.com", "123", schema.RoleEtudiant)
	if err != nil {
		t.Fatal(err)
	}

	err = client.login(loginInfo{Email: "xyz@mail.com", Password: "123"})
	if err != nil {
		t.Fatal("new user should be created")
	}

	// Admin accounts can only come from an existing admin.
	_, err = admin.addUser("admin2", "admin2@mail.com", "123", schema.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}

	admin2 := env.newClient()
	err = admin2.login(loginInfo{Email: "admin2@mail.com", Password: "123"})
	if err != nil {
		t.Fatal(err)
	}
	info, err := admin2.userInfo()
	if err != nil {
		t.Fatal(err)
	}
	if info.Role != schema.RoleAdmin {
		t.Fatalf("expected admin role, got %v", info.Role)
	}
}

func TestListUsersIsAdminOnly(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newEtudiant("abc")
	if err != nil {
		t.Fatal(err)
	}

	_, err = user.listUsers()
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("non admin cannot list users: %v", err)
	}

	users, err := admin.listUsers()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
}

func TestDeleteUserCascades(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	entreprise, err := env.newEntreprise("comp")
	if err != nil {
		t.Fatal(err)
	}
	offre, err := entreprise.createOffre("Stage dev", "Stage de developpement", 6)
	if err != nil {
		t.Fatal(err)
	}

	etudiant, err := env.newEtudiant("abc")
	if err != nil {
		t.Fatal(err)
	}
	candidature, err := etudiant.apply(offre.Id.String(), "cv.pdf", pdfBytes("abc cv"))
	if err != nil {
		t.Fatal(err)
	}

	exists, err := env.storage.Exists(candidature.CheminCV)
	if err != nil || !exists {
		t.Fatalf("cv should be stored: exists=%v err=%v", exists, err)
	}

	err = etudiant.deleteUser(etudiant.userId)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("non admin cannot delete users: %v", err)
	}

	err = admin.deleteUser(etudiant.userId)
	if err != nil {
		t.Fatal(err)
	}

	users, err := admin.listUsers()
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range users {
		if u.Id.String() == etudiant.userId {
			t.Fatal("deleted user still listed")
		}
	}

	candidatures, err := admin.listCandidatures("")
	if err != nil {
		t.Fatal(err)
	}
	if len(candidatures) != 0 {
		t.Fatalf("candidatures should be removed with the account, got %d", len(candidatures))
	}

	exists, err = env.storage.Exists(candidature.CheminCV)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("cv file should be removed with the account")
	}

	err = etudiant.login(loginInfo{Email: "abc@mail.com", Password: "abc_password"})
	if err == nil {
		t.Fatal("deleted user should not be able to log in")
	}
}
