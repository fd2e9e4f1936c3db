package tests

import (
	"errors"
	"fmt"
	"testing"
)

func TestEntrepriseOwnProfile(t *testing.T) {
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

	err = comp1.updateEntreprise(profile1.Id.String(), map[string]string{
		"nom": "Acme", "adresse": "1 rue du Port", "secteur": "Informatique",
	})
	if err != nil {
		t.Fatal(err)
	}

	profile1, err = comp1.getEntreprise(profile1.Id.String())
	if err != nil {
		t.Fatal(err)
	}
	if profile1.Nom != "Acme" || profile1.Secteur != "Informatique" || profile1.EmailContact != "comp1@mail.com" {
		t.Fatalf("invalid profile after update: %v", profile1)
	}

	_, err = comp1.getEntreprise(profile2.Id.String())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("companies cannot view other profiles: %v", err)
	}

	err = comp1.updateEntreprise(profile2.Id.String(), map[string]string{"nom": "Hacked"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("companies cannot edit other profiles: %v", err)
	}

	err = comp1.deleteEntreprise(profile2.Id.String())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("companies cannot delete profiles: %v", err)
	}
}

func TestEntrepriseListPagination(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 25; i++ {
		secteur := "Informatique"
		if i%2 == 0 {
			secteur = "Finance"
		}
		_, err := admin.createEntreprise(map[string]string{
			"nom":           fmt.Sprintf("Entreprise %02d", i),
			"email_contact": fmt.Sprintf("contact%d@mail.com", i),
			"secteur":       secteur,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	page1, err := admin.listEntreprises("")
	if err != nil {
		t.Fatal(err)
	}
	if page1.TotalCount != 25 || page1.Page != 1 || page1.PageSize != 10 {
		t.Fatalf("invalid first page: %+v", page1)
	}
	if len(page1.Entreprises) != 10 || page1.HasPrevious || !page1.HasNext {
		t.Fatalf("invalid first page contents: %+v", page1)
	}

	page3, err := admin.listEntreprises("?page=3")
	if err != nil {
		t.Fatal(err)
	}
	if len(page3.Entreprises) != 5 || !page3.HasPrevious || page3.HasNext {
		t.Fatalf("invalid last page: %+v", page3)
	}

	big, err := admin.listEntreprises("?page_size=30")
	if err != nil {
		t.Fatal(err)
	}
	if len(big.Entreprises) != 25 || big.HasNext {
		t.Fatalf("invalid oversized page: %+v", big)
	}

	finance, err := admin.listEntreprises("?secteur=Finance")
	if err != nil {
		t.Fatal(err)
	}
	if finance.TotalCount != 13 {
		t.Fatalf("expected 13 finance companies, got %d", finance.TotalCount)
	}

	search, err := admin.listEntreprises("?search=Entreprise%2007")
	if err != nil {
		t.Fatal(err)
	}
	if search.TotalCount != 1 || search.Entreprises[0].Nom != "Entreprise 07" {
		t.Fatalf("invalid search result: %+v", search)
	}
}

func TestEntrepriseDuplicateEmail(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	_, err = admin.createEntreprise(map[string]string{"nom": "Acme", "email_contact": "acme@mail.com"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = admin.createEntreprise(map[string]string{"nom": "Other", "email_contact": "acme@mail.com"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate contact email should be rejected: %v", err)
	}
}
