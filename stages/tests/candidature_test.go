package tests

import (
	"bytes"
	"errors"
	"gestion_stages/stages/schema"
	"gestion_stages/stages/services"
	"testing"

	"github.com/google/uuid"
)

// applicationSetup creates a company with one posting and a student, the
// starting point for most application scenarios.
func applicationSetup(t *testing.T, env *testEnv) (entreprise client, etudiant client, offre services.OffreInfo) {
	entreprise, err := env.newEntreprise("comp")
	if err != nil {
		t.Fatal(err)
	}
	offre, err = entreprise.createOffre("Stage dev", "Stage de developpement", 6)
	if err != nil {
		t.Fatal(err)
	}
	etudiant, err = env.newEtudiant("abc")
	if err != nil {
		t.Fatal(err)
	}
	return entreprise, etudiant, offre
}

func TestApply(t *testing.T) {
	env := setupTestEnv(t)
	_, etudiant, offre := applicationSetup(t, env)

	cv := pdfBytes("abc cv")
	candidature, err := etudiant.apply(offre.Id.String(), "cv.pdf", cv)
	if err != nil {
		t.Fatal(err)
	}

	if candidature.Statut != schema.CandidatureEnAttente {
		t.Fatalf("new candidature should be pending, got %v", candidature.Statut)
	}
	if candidature.Version != 0 {
		t.Fatalf("new candidature should have version 0, got %d", candidature.Version)
	}
	if candidature.OffreStageId != offre.Id {
		t.Fatal("candidature should reference the posting")
	}

	downloaded, err := etudiant.downloadCv(candidature.Id.String())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(downloaded, cv) {
		t.Fatal("downloaded cv does not match the upload")
	}

	listed, err := etudiant.listCandidatures("")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].Id != candidature.Id {
		t.Fatalf("invalid candidature list: %v", listed)
	}
}

func TestApplyToUnknownOffre(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.newEntreprise("comp")
	if err != nil {
		t.Fatal(err)
	}
	etudiant, err := env.newEtudiant("abc")
	if err != nil {
		t.Fatal(err)
	}

	_, err = etudiant.apply(uuid.NewString(), "cv.pdf", pdfBytes("cv"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("applying to an unknown posting should yield not found: %v", err)
	}

	candidatures, err := etudiant.listCandidatures("")
	if err != nil {
		t.Fatal(err)
	}
	if len(candidatures) != 0 {
		t.Fatal("failed application should not be persisted")
	}
}

func TestDuplicateApplication(t *testing.T) {
	env := setupTestEnv(t)
	_, etudiant, offre := applicationSetup(t, env)

	if _, err := etudiant.apply(offre.Id.String(), "cv.pdf", pdfBytes("cv")); err != nil {
		t.Fatal(err)
	}

	_, err := etudiant.apply(offre.Id.String(), "cv.pdf", pdfBytes("cv again"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second application to the same posting should conflict: %v", err)
	}

	candidatures, err := etudiant.listCandidatures("")
	if err != nil {
		t.Fatal(err)
	}
	if len(candidatures) != 1 {
		t.Fatalf("expected a single candidature, got %d", len(candidatures))
	}
}

func TestUploadValidation(t *testing.T) {
	env := setupTestEnv(t)
	_, etudiant, offre := applicationSetup(t, env)

	_, err := etudiant.apply(offre.Id.String(), "cv.docx", pdfBytes("not a pdf"))
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("non pdf uploads should be rejected: %v", err)
	}

	oversized := bytes.Repeat([]byte("a"), 10*1024*1024+1)
	_, err = etudiant.apply(offre.Id.String(), "cv.pdf", oversized)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("oversized uploads should be rejected: %v", err)
	}

	form := newMultipartForm().Field("offre_id", offre.Id.String()).Close()
	err = etudiant.Post("/candidature/create").Multipart(form).Do(nil)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("applications without a cv should be rejected: %v", err)
	}
}

func TestAcceptReject(t *testing.T) {
	env := setupTestEnv(t)
	entreprise, etudiant, offre := applicationSetup(t, env)

	candidature, err := etudiant.apply(offre.Id.String(), "cv.pdf", pdfBytes("cv"))
	if err != nil {
		t.Fatal(err)
	}

	err = etudiant.acceptCandidature(candidature.Id.String())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot decide applications: %v", err)
	}

	other, err := env.newEntreprise("other")
	if err != nil {
		t.Fatal(err)
	}
	err = other.acceptCandidature(candidature.Id.String())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("companies cannot decide applications to other postings: %v", err)
	}

	err = entreprise.acceptCandidature(candidature.Id.String())
	if err != nil {
		t.Fatal(err)
	}

	candidature, err = etudiant.getCandidature(candidature.Id.String())
	if err != nil {
		t.Fatal(err)
	}
	if candidature.Statut != schema.CandidatureAcceptee {
		t.Fatalf("candidature should be accepted, got %v", candidature.Statut)
	}
	if candidature.Version != 1 {
		t.Fatalf("decision should bump the version, got %d", candidature.Version)
	}

	// The decision is final, a second decision loses the status guard.
	err = entreprise.rejectCandidature(candidature.Id.String())
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("decided candidature cannot be decided again: %v", err)
	}

	err = entreprise.acceptCandidature(uuid.NewString())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown candidature should yield not found: %v", err)
	}
}

func TestCandidatureVisibility(t *testing.T) {
	env := setupTestEnv(t)
	entreprise, etudiant, offre := applicationSetup(t, env)

	candidature, err := etudiant.apply(offre.Id.String(), "cv.pdf", pdfBytes("cv"))
	if err != nil {
		t.Fatal(err)
	}

	other, err := env.newEtudiant("xyz")
	if err != nil {
		t.Fatal(err)
	}

	// Unknown ids are reported as missing before any ownership answer.
	_, err = other.getCandidature(uuid.NewString())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown candidature should yield not found: %v", err)
	}

	_, err = other.getCandidature(candidature.Id.String())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot view other applications: %v", err)
	}

	_, err = other.downloadCv(candidature.Id.String())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot download other cvs: %v", err)
	}

	ownList, err := other.listCandidatures("")
	if err != nil {
		t.Fatal(err)
	}
	if len(ownList) != 0 {
		t.Fatal("students only see their own applications")
	}

	companyList, err := entreprise.listCandidatures("")
	if err != nil {
		t.Fatal(err)
	}
	if len(companyList) != 1 || companyList[0].Id != candidature.Id {
		t.Fatalf("company should see applications to its postings: %v", companyList)
	}

	otherCompany, err := env.newEntreprise("other_comp")
	if err != nil {
		t.Fatal(err)
	}
	otherCompanyList, err := otherCompany.listCandidatures("")
	if err != nil {
		t.Fatal(err)
	}
	if len(otherCompanyList) != 0 {
		t.Fatal("companies only see applications to their own postings")
	}
}

func TestApplyWithoutProfile(t *testing.T) {
	env := setupTestEnv(t)
	_, etudiant, offre := applicationSetup(t, env)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	profile, err := etudiant.myEtudiant()
	if err != nil {
		t.Fatal(err)
	}
	err = admin.deleteEtudiant(profile.Id.String())
	if err != nil {
		t.Fatal(err)
	}

	// The account remains but the profile row is gone, which is reported as a
	// conflict rather than a permission failure.
	_, err = etudiant.apply(offre.Id.String(), "cv.pdf", pdfBytes("cv"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("application without a profile should conflict: %v", err)
	}
}

func TestAdminUpdateCandidature(t *testing.T) {
	env := setupTestEnv(t)
	_, etudiant, offre := applicationSetup(t, env)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	candidature, err := etudiant.apply(offre.Id.String(), "cv.pdf", pdfBytes("original"))
	if err != nil {
		t.Fatal(err)
	}

	err = etudiant.updateCandidature(candidature.Id.String(), schema.CandidatureAcceptee, 0, nil)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot use the admin edit: %v", err)
	}

	err = admin.updateCandidature(candidature.Id.String(), "Invalide", 0, nil)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("unknown statut should be rejected: %v", err)
	}

	replacement := pdfBytes("replacement")
	err = admin.updateCandidature(candidature.Id.String(), schema.CandidatureAcceptee, 0, replacement)
	if err != nil {
		t.Fatal(err)
	}

	candidature, err = admin.getCandidature(candidature.Id.String())
	if err != nil {
		t.Fatal(err)
	}
	if candidature.Statut != schema.CandidatureAcceptee || candidature.Version != 1 {
		t.Fatalf("invalid candidature after update: %v", candidature)
	}

	downloaded, err := admin.downloadCv(candidature.Id.String())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(downloaded, replacement) {
		t.Fatal("cv replacement should overwrite the stored file")
	}

	// A writer that read version 0 lost the race against the update above.
	err = admin.updateCandidature(candidature.Id.String(), schema.CandidatureRefusee, 0, nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale version should conflict: %v", err)
	}

	err = admin.updateCandidature(candidature.Id.String(), schema.CandidatureRefusee, 1, nil)
	if err != nil {
		t.Fatal(err)
	}

	err = admin.updateCandidature(uuid.NewString(), schema.CandidatureRefusee, 0, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown candidature should yield not found: %v", err)
	}
}

func TestDeleteCandidature(t *testing.T) {
	env := setupTestEnv(t)
	entreprise, etudiant, offre := applicationSetup(t, env)

	candidature, err := etudiant.apply(offre.Id.String(), "cv.pdf", pdfBytes("cv"))
	if err != nil {
		t.Fatal(err)
	}

	err = entreprise.deleteCandidature(candidature.Id.String())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("companies cannot withdraw applications: %v", err)
	}

	err = etudiant.deleteCandidature(candidature.Id.String())
	if err != nil {
		t.Fatal(err)
	}

	_, err = etudiant.getCandidature(candidature.Id.String())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("withdrawn candidature should be gone: %v", err)
	}

	exists, err := env.storage.Exists(candidature.CheminCV)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("cv file should be removed with the candidature")
	}
}

func TestDeleteCandidatureCascadesConventionAndRapport(t *testing.T) {
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

	err = admin.deleteCandidature(candidature.Id.String())
	if err != nil {
		t.Fatal(err)
	}

	_, err = admin.getCandidature(candidature.Id.String())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("candidature should be gone: %v", err)
	}
	_, err = admin.getConvention(convention.Id.String())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("dependent convention should be gone: %v", err)
	}
	_, err = admin.getRapport(rapport.Id.String())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("dependent rapport should be gone: %v", err)
	}

	paths := []string{
		candidature.CheminCV,
		"conventions/" + convention.Id.String() + ".pdf",
		"rapports/" + rapport.Id.String() + ".pdf",
	}
	for _, path := range paths {
		exists, err := env.storage.Exists(path)
		if err != nil {
			t.Fatal(err)
		}
		if exists {
			t.Fatalf("file %v should be removed with the candidature", path)
		}
	}
}
