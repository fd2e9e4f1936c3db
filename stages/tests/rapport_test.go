package tests

import (
	"bytes"
	"errors"
	"gestion_stages/stages/services"
	"testing"

	"github.com/google/uuid"
)

// conventionForStudent builds the full chain up to an agreement owned by the
// returned student client.
func conventionForStudent(t *testing.T, env *testEnv) (etudiant client, convention services.ConventionInfo) {
	admin, candidature := acceptedCandidature(t, env)

	debut, fin := stageDates()
	convention, err := admin.createConvention(candidature.Id.String(), debut, fin)
	if err != nil {
		t.Fatal(err)
	}

	etudiant = env.newClient()
	err = etudiant.login(loginInfo{Email: "abc@mail.com", Password: "abc_password"})
	if err != nil {
		t.Fatal(err)
	}
	return etudiant, convention
}

func TestRapportLifecycle(t *testing.T) {
	env := setupTestEnv(t)
	etudiant, convention := conventionForStudent(t, env)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	eligible, err := etudiant.eligibleConventions()
	if err != nil {
		t.Fatal(err)
	}
	if len(eligible) != 1 || eligible[0].Id != convention.Id {
		t.Fatalf("student should see their own agreement as eligible: %v", eligible)
	}

	fichier := pdfBytes("rapport de stage")
	rapport, err := etudiant.createRapport(convention.Id.String(), "Rapport final", "rapport_v1.pdf", fichier)
	if err != nil {
		t.Fatal(err)
	}
	if rapport.Titre != "Rapport final" || rapport.NomFichier != "rapport_v1.pdf" {
		t.Fatalf("invalid rapport: %v", rapport)
	}

	_, err = etudiant.createRapport(convention.Id.String(), "Encore", "rapport.pdf", fichier)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("an agreement carries at most one rapport: %v", err)
	}

	eligible, err = etudiant.eligibleConventions()
	if err != nil {
		t.Fatal(err)
	}
	if len(eligible) != 0 {
		t.Fatal("agreement with a rapport is no longer eligible")
	}

	downloaded, err := etudiant.downloadRapport(rapport.Id.String())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(downloaded, fichier) {
		t.Fatal("downloaded rapport does not match the upload")
	}

	replacement := pdfBytes("rapport corrige")
	err = etudiant.updateRapport(rapport.Id.String(), "Rapport corrige", replacement)
	if err != nil {
		t.Fatal(err)
	}

	rapport, err = etudiant.getRapport(rapport.Id.String())
	if err != nil {
		t.Fatal(err)
	}
	if rapport.Titre != "Rapport corrige" || rapport.NomFichier != "rapport.pdf" {
		t.Fatalf("invalid rapport after update: %v", rapport)
	}

	downloaded, err = etudiant.downloadRapport(rapport.Id.String())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(downloaded, replacement) {
		t.Fatal("replacement should overwrite the stored file")
	}

	err = etudiant.deleteRapport(rapport.Id.String())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot delete rapports: %v", err)
	}

	err = admin.deleteRapport(rapport.Id.String())
	if err != nil {
		t.Fatal(err)
	}

	_, err = admin.getRapport(rapport.Id.String())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted rapport should be gone: %v", err)
	}

	exists, err := env.storage.Exists("rapports/" + rapport.Id.String() + ".pdf")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("rapport file should be removed with the row")
	}
}

func TestRapportOwnership(t *testing.T) {
	env := setupTestEnv(t)
	etudiant, convention := conventionForStudent(t, env)

	rapport, err := etudiant.createRapport(convention.Id.String(), "Rapport final", "rapport.pdf", pdfBytes("rapport"))
	if err != nil {
		t.Fatal(err)
	}

	other, err := env.newEtudiant("xyz")
	if err != nil {
		t.Fatal(err)
	}

	_, err = other.getRapport(uuid.NewString())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown rapport should yield not found: %v", err)
	}

	_, err = other.getRapport(rapport.Id.String())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot view other rapports: %v", err)
	}

	_, err = other.createRapport(convention.Id.String(), "Vol", "rapport.pdf", pdfBytes("x"))
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot report on other agreements: %v", err)
	}

	err = other.updateRapport(rapport.Id.String(), "Vol", nil)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot edit other rapports: %v", err)
	}

	_, err = other.eligibleConventions()
	if err != nil {
		t.Fatal(err)
	}

	otherList, err := other.listRapports()
	if err != nil {
		t.Fatal(err)
	}
	if len(otherList) != 0 {
		t.Fatal("students only see their own rapports")
	}

	ownList, err := etudiant.listRapports()
	if err != nil {
		t.Fatal(err)
	}
	if len(ownList) != 1 || ownList[0].Id != rapport.Id {
		t.Fatalf("invalid rapport list: %v", ownList)
	}

	entreprise := env.newClient()
	err = entreprise.login(loginInfo{Email: "comp@mail.com", Password: "comp_password"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = entreprise.listRapports()
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("companies have no access to rapports: %v", err)
	}
}
