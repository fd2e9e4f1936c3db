package tests

import (
	"bytes"
	"errors"
	"gestion_stages/stages/schema"
	"gestion_stages/stages/services"
	"testing"
	"time"

	"github.com/google/uuid"
)

func stageDates() (time.Time, time.Time) {
	debut := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return debut, debut.AddDate(0, 6, 0)
}

// acceptedCandidature drives an application through to acceptance so that an
// agreement can be created from it.
func acceptedCandidature(t *testing.T, env *testEnv) (admin client, candidature services.CandidatureInfo) {
	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	entreprise, etudiant, offre := applicationSetup(t, env)

	candidature, err = etudiant.apply(offre.Id.String(), "cv.pdf", pdfBytes("cv"))
	if err != nil {
		t.Fatal(err)
	}
	err = entreprise.acceptCandidature(candidature.Id.String())
	if err != nil {
		t.Fatal(err)
	}
	return admin, candidature
}

func TestConventionRequiresAcceptedCandidature(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	_, etudiant, offre := applicationSetup(t, env)
	candidature, err := etudiant.apply(offre.Id.String(), "cv.pdf", pdfBytes("cv"))
	if err != nil {
		t.Fatal(err)
	}

	debut, fin := stageDates()

	_, err = admin.createConvention(candidature.Id.String(), debut, fin)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("pending candidature cannot receive a convention: %v", err)
	}

	_, err = admin.createConvention(uuid.NewString(), debut, fin)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown candidature should yield not found: %v", err)
	}
}

func TestConventionLifecycle(t *testing.T) {
	env := setupTestEnv(t)
	admin, candidature := acceptedCandidature(t, env)

	eligible, err := admin.eligibleCandidatures()
	if err != nil {
		t.Fatal(err)
	}
	if len(eligible) != 1 || eligible[0].Id != candidature.Id {
		t.Fatalf("accepted candidature should be eligible: %v", eligible)
	}

	debut, fin := stageDates()

	_, err = admin.createConvention(candidature.Id.String(), fin, debut)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("date_fin before date_debut should be rejected: %v", err)
	}

	convention, err := admin.createConvention(candidature.Id.String(), debut, fin)
	if err != nil {
		t.Fatal(err)
	}
	if convention.Statut != schema.ConventionSignee {
		t.Fatalf("new convention should be signed, got %v", convention.Statut)
	}
	if convention.CandidatureId != candidature.Id {
		t.Fatal("convention should reference the candidature")
	}

	_, err = admin.createConvention(candidature.Id.String(), debut, fin)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("a candidature carries at most one convention: %v", err)
	}

	eligible, err = admin.eligibleCandidatures()
	if err != nil {
		t.Fatal(err)
	}
	if len(eligible) != 0 {
		t.Fatal("candidature with a convention is no longer eligible")
	}

	listed, err := admin.listConventions("?statut=" + schema.ConventionSignee)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].Id != convention.Id {
		t.Fatalf("invalid convention list: %v", listed)
	}

	_, err = admin.listConventions("?statut=Inconnue")
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("unknown statut filter should be rejected: %v", err)
	}
}

func TestConventionIsAdminOnly(t *testing.T) {
	env := setupTestEnv(t)

	entreprise, etudiant, offre := applicationSetup(t, env)
	candidature, err := etudiant.apply(offre.Id.String(), "cv.pdf", pdfBytes("cv"))
	if err != nil {
		t.Fatal(err)
	}
	err = entreprise.acceptCandidature(candidature.Id.String())
	if err != nil {
		t.Fatal(err)
	}

	debut, fin := stageDates()

	_, err = etudiant.createConvention(candidature.Id.String(), debut, fin)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot create conventions: %v", err)
	}
	_, err = entreprise.createConvention(candidature.Id.String(), debut, fin)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("companies cannot create conventions: %v", err)
	}

	_, err = etudiant.listConventions("")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot list conventions: %v", err)
	}
}

func TestConventionUpdateVersionGuard(t *testing.T) {
	env := setupTestEnv(t)
	admin, candidature := acceptedCandidature(t, env)

	debut, fin := stageDates()
	convention, err := admin.createConvention(candidature.Id.String(), debut, fin)
	if err != nil {
		t.Fatal(err)
	}

	err = admin.updateConvention(convention.Id.String(), "Inconnue", 0)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("unknown statut should be rejected: %v", err)
	}

	err = admin.updateConvention(convention.Id.String(), schema.ConventionEnCours, 0)
	if err != nil {
		t.Fatal(err)
	}

	convention, err = admin.getConvention(convention.Id.String())
	if err != nil {
		t.Fatal(err)
	}
	if convention.Statut != schema.ConventionEnCours || convention.Version != 1 {
		t.Fatalf("invalid convention after update: %v", convention)
	}

	err = admin.updateConvention(convention.Id.String(), schema.ConventionTerminee, 0)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale version should conflict: %v", err)
	}

	err = admin.updateConvention(convention.Id.String(), schema.ConventionTerminee, 1)
	if err != nil {
		t.Fatal(err)
	}

	err = admin.updateConvention(uuid.NewString(), schema.ConventionEnCours, 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown convention should yield not found: %v", err)
	}
}

func TestConventionDocument(t *testing.T) {
	env := setupTestEnv(t)
	admin, candidature := acceptedCandidature(t, env)

	debut, fin := stageDates()
	convention, err := admin.createConvention(candidature.Id.String(), debut, fin)
	if err != nil {
		t.Fatal(err)
	}

	_, err = admin.downloadConventionDocument(convention.Id.String())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("convention without a document has nothing to download: %v", err)
	}

	err = admin.uploadConventionDocument(convention.Id.String(), "convention.txt", pdfBytes("doc"))
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("non pdf document should be rejected: %v", err)
	}

	document := pdfBytes("signed agreement")
	err = admin.uploadConventionDocument(convention.Id.String(), "convention.pdf", document)
	if err != nil {
		t.Fatal(err)
	}

	downloaded, err := admin.downloadConventionDocument(convention.Id.String())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(downloaded, document) {
		t.Fatal("downloaded document does not match the upload")
	}

	convention, err = admin.getConvention(convention.Id.String())
	if err != nil {
		t.Fatal(err)
	}
	if !convention.HasDocument {
		t.Fatal("convention should report its document")
	}
}

func TestConventionDeleteCascades(t *testing.T) {
	env := setupTestEnv(t)
	admin, candidature := acceptedCandidature(t, env)

	debut, fin := stageDates()
	convention, err := admin.createConvention(candidature.Id.String(), debut, fin)
	if err != nil {
		t.Fatal(err)
	}

	err = admin.uploadConventionDocument(convention.Id.String(), "convention.pdf", pdfBytes("doc"))
	if err != nil {
		t.Fatal(err)
	}

	rapport, err := admin.createRapport(convention.Id.String(), "Rapport final", "rapport.pdf", pdfBytes("rapport"))
	if err != nil {
		t.Fatal(err)
	}

	err = admin.deleteConvention(convention.Id.String())
	if err != nil {
		t.Fatal(err)
	}

	_, err = admin.getConvention(convention.Id.String())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted convention should be gone: %v", err)
	}

	_, err = admin.getRapport(rapport.Id.String())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("rapport should be removed with the convention: %v", err)
	}

	rapports, err := admin.listRapports()
	if err != nil {
		t.Fatal(err)
	}
	if len(rapports) != 0 {
		t.Fatal("rapport list should be empty after the cascade")
	}

	// Both the agreement document and the report file go with the rows.
	for _, path := range []string{"conventions/" + convention.Id.String() + ".pdf", "rapports/" + rapport.Id.String() + ".pdf"} {
		exists, err := env.storage.Exists(path)
		if err != nil {
			t.Fatal(err)
		}
		if exists {
			t.Fatalf("file %v should be removed with the convention", path)
		}
	}

	// The candidature itself is untouched and becomes eligible again.
	eligible, err := admin.eligibleCandidatures()
	if err != nil {
		t.Fatal(err)
	}
	if len(eligible) != 1 || eligible[0].Id != candidature.Id {
		t.Fatalf("candidature should be eligible again: %v", eligible)
	}
}
