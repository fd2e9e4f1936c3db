package tests

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestOffreCreateIsCompanyOnly(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	etudiant, err := env.newEtudiant("abc")
	if err != nil {
		t.Fatal(err)
	}
	entreprise, err := env.newEntreprise("comp")
	if err != nil {
		t.Fatal(err)
	}

	_, err = etudiant.createOffre("Stage dev", "Stage de developpement", 6)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("students cannot post offres: %v", err)
	}

	_, err = admin.createOffre("Stage dev", "Stage de developpement", 6)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("admins do not own a company profile and cannot post offres: %v", err)
	}

	_, err = entreprise.createOffre("", "Stage de developpement", 6)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("titre is required: %v", err)
	}

	_, err = entreprise.createOffre("Stage dev", "Stage de developpement", 0)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("duree_mois must be positive: %v", err)
	}

	offre, err := entreprise.createOffre("Stage dev", "Stage de developpement", 6)
	if err != nil {
		t.Fatal(err)
	}

	profile, err := entreprise.myEntreprise()
	if err != nil {
		t.Fatal(err)
	}
	if offre.EntrepriseId != profile.Id {
		t.Fatal("offre should belong to the posting company")
	}
}

func TestOffreListAndFacets(t *testing.T) {
	env := setupTestEnv(t)

	comp1, err := env.newEntreprise("comp1")
	if err != nil {
		t.Fatal(err)
	}
	comp2, err := env.newEntreprise("comp2")
	if err != nil {
		t.Fatal(err)
	}

	profile1, err := comp1.myEntreprise()
	if err != nil {
		t.Fatal(err)
	}
	profile2, err := comp2.myEntreprise()
	if err != nil {
		t.Fatal(err)
	}
	err = comp1.updateEntreprise(profile1.Id.String(), map[string]string{"nom": "Acme", "secteur": "Informatique"})
	if err != nil {
		t.Fatal(err)
	}
	err = comp2.updateEntreprise(profile2.Id.String(), map[string]string{"nom": "Bank", "secteur": "Finance"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := comp1.createOffre("Stage backend", "Developpement serveur", 6); err != nil {
		t.Fatal(err)
	}
	if _, err := comp1.createOffre("Stage frontend", "Developpement interface", 4); err != nil {
		t.Fatal(err)
	}
	if _, err := comp2.createOffre("Stage analyse", "Analyse de donnees", 6); err != nil {
		t.Fatal(err)
	}

	etudiant, err := env.newEtudiant("abc")
	if err != nil {
		t.Fatal(err)
	}

	all, err := etudiant.listOffres("")
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, all.Offres, 3)
	assert.Equal(t, []int{4, 6}, all.Durees)
	assert.Equal(t, []string{"Finance", "Informatique"}, all.Secteurs)

	own, err := comp1.listOffres("")
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, own.Offres, 2)

	filtered, err := etudiant.listOffres("?duree=6&secteur=Informatique")
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, filtered.Offres, 1)
	assert.Equal(t, "Stage backend", filtered.Offres[0].Titre)
	assert.Equal(t, "Acme", filtered.Offres[0].EntrepriseNom)

	search, err := etudiant.listOffres("?search=interface")
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, search.Offres, 1)
	assert.Equal(t, "Stage frontend", search.Offres[0].Titre)
}

func TestOffreUpdateAndDelete(t *testing.T) {
	env := setupTestEnv(t)

	comp1, err := env.newEntreprise("comp1")
	if err != nil {
		t.Fatal(err)
	}
	comp2, err := env.newEntreprise("comp2")
	if err != nil {
		t.Fatal(err)
	}

	offre, err := comp1.createOffre("Stage dev", "Stage de developpement", 6)
	if err != nil {
		t.Fatal(err)
	}

	update := map[string]interface{}{"titre": "Stage devops", "description": "Stage infra", "duree_mois": 5}

	err = comp2.updateOffre(offre.Id.String(), update)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("companies cannot edit other postings: %v", err)
	}

	err = comp1.updateOffre(uuid.NewString(), update)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown offre should yield not found: %v", err)
	}

	err = comp1.updateOffre(offre.Id.String(), update)
	if err != nil {
		t.Fatal(err)
	}

	offre, err = comp1.getOffre(offre.Id.String())
	if err != nil {
		t.Fatal(err)
	}
	if offre.Titre != "Stage devops" || offre.DureeMois != 5 {
		t.Fatalf("invalid offre after update: %v", offre)
	}

	err = comp2.deleteOffre(offre.Id.String())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("companies cannot delete other postings: %v", err)
	}

	err = comp1.deleteOffre(offre.Id.String())
	if err != nil {
		t.Fatal(err)
	}

	_, err = comp1.getOffre(offre.Id.String())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted offre should be gone: %v", err)
	}
}

func TestOffreDeleteCascadesCandidatures(t *testing.T) {
	env := setupTestEnv(t)

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
	candidature, err := etudiant.apply(offre.Id.String(), "cv.pdf", pdfBytes("cv"))
	if err != nil {
		t.Fatal(err)
	}

	err = entreprise.deleteOffre(offre.Id.String())
	if err != nil {
		t.Fatal(err)
	}

	candidatures, err := etudiant.listCandidatures("")
	if err != nil {
		t.Fatal(err)
	}
	if len(candidatures) != 0 {
		t.Fatalf("candidatures should be removed with the posting, got %d", len(candidatures))
	}

	exists, err := env.storage.Exists(candidature.CheminCV)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("cv file should be removed with the posting")
	}
}
