package tests

import (
	"errors"
	"testing"
)

func TestEtudiantOwnProfile(t *testing.T) {
	env := setupTestEnv(t)

	user1, err := env.newEtudiant("abc")
	if err != nil {
		t.Fatal(err)
	}
	user2, err := env.newEtudiant("xyz")
	if err != nil {
		t.Fatal(err)
	}

	profile1, err := user1.myEtudiant()
	if err != nil {
		t.Fatal(err)
	}
	profile2, err := user2.myEtudiant()
	if err != nil {
		t.Fatal(err)
	}

	err = user1.updateEtudiant(profile1.Id.String(), map[string]string{
		"nom": "Martin", "prenom": "Alice", "filiere": "Informatique", "niveau": "M1",
	})
	if err != nil {
		t.Fatal(err)
	}

	profile1, err = user1.getEtudiant(profile1.Id.String())
	if err != nil {
		t.Fatal(err)
	}
	if profile1.Nom != "Martin" || profile1.Prenom != "Alice" || profile1.Email != "abc@mail.com" {
		t.Fatalf("invalid profile after update: %v", profile1)
	}

	_, err = user1.getEtudiant(profile2.Id.String())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot view other profiles: %v", err)
	}

	err = user1.updateEtudiant(profile2.Id.String(), map[string]string{"nom": "Hacked"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot edit other profiles: %v", err)
	}

	err = user1.deleteEtudiant(profile1.Id.String())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot delete profiles: %v", err)
	}
}

func TestEtudiantCreateIsAdminOnly(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newEtudiant("abc")
	if err != nil {
		t.Fatal(err)
	}

	_, err = user.createEtudiant(map[string]string{"nom": "Durand", "email": "other@mail.com"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot create profiles: %v", err)
	}

	_, err = admin.createEtudiant(map[string]string{"nom": "Durand"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("email is required: %v", err)
	}

	created, err := admin.createEtudiant(map[string]string{"nom": "Durand", "email": "durand@mail.com"})
	if err != nil {
		t.Fatal(err)
	}
	if created.Nom != "Durand" || created.Email != "durand@mail.com" {
		t.Fatalf("invalid created profile: %v", created)
	}

	_, err = admin.createEtudiant(map[string]string{"nom": "Copy", "email": "durand@mail.com"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email should be rejected: %v", err)
	}
}

func TestEtudiantListFilters(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	profiles := []map[string]string{
		{"nom": "Martin", "prenom": "Alice", "email": "a@mail.com", "filiere": "Informatique", "niveau": "M1"},
		{"nom": "Durand", "prenom": "Bob", "email": "b@mail.com", "filiere": "Informatique", "niveau": "L3"},
		{"nom": "Petit", "prenom": "Chloe", "email": "c@mail.com", "filiere": "Gestion", "niveau": "M1"},
	}
	for _, p := range profiles {
		if _, err := admin.createEtudiant(p); err != nil {
			t.Fatal(err)
		}
	}

	all, err := admin.listEtudiants("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 etudiants, got %d", len(all))
	}
	if all[0].Nom != "Durand" || all[1].Nom != "Martin" || all[2].Nom != "Petit" {
		t.Fatalf("list should be ordered by name: %v", all)
	}

	info, err := admin.listEtudiants("?filiere=Informatique")
	if err != nil {
		t.Fatal(err)
	}
	if len(info) != 2 {
		t.Fatalf("expected 2 etudiants in Informatique, got %d", len(info))
	}

	m1, err := admin.listEtudiants("?filiere=Informatique&niveau=M1")
	if err != nil {
		t.Fatal(err)
	}
	if len(m1) != 1 || m1[0].Nom != "Martin" {
		t.Fatalf("invalid filtered list: %v", m1)
	}

	search, err := admin.listEtudiants("?search=Chloe")
	if err != nil {
		t.Fatal(err)
	}
	if len(search) != 1 || search[0].Nom != "Petit" {
		t.Fatalf("invalid search result: %v", search)
	}
}

func TestEtudiantDeleteCascades(t *testing.T) {
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
	profile, err := etudiant.myEtudiant()
	if err != nil {
		t.Fatal(err)
	}

	candidature, err := etudiant.apply(offre.Id.String(), "cv.pdf", pdfBytes("cv"))
	if err != nil {
		t.Fatal(err)
	}

	err = admin.deleteEtudiant(profile.Id.String())
	if err != nil {
		t.Fatal(err)
	}

	_, err = admin.getEtudiant(profile.Id.String())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted etudiant should be gone: %v", err)
	}

	_, err = admin.getCandidature(candidature.Id.String())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("candidature should be removed with the profile: %v", err)
	}

	exists, err := env.storage.Exists(candidature.CheminCV)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("cv file should be removed with the profile")
	}
}
