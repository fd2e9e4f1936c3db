package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrEtudiantNotFound    = errors.New("etudiant not found")
	ErrEntrepriseNotFound  = errors.New("entreprise not found")
	ErrOffreNotFound       = errors.New("offre de stage not found")
	ErrCandidatureNotFound = errors.New("candidature not found")
	ErrConventionNotFound  = errors.New("convention not found")
	ErrRapportNotFound     = errors.New("rapport de stage not found")

	ErrDbAccessFailed = errors.New("database access failed")
)

func GetUser(userId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return User{}, ErrUserNotFound
		}
		slog.Error("sql error in GetUser", "error", result.Error)
		return User{}, ErrDbAccessFailed
	}

	return user, nil
}

func GetEtudiant(etudiantId uuid.UUID, db *gorm.DB, preloadCandidatures bool) (Etudiant, error) {
	var etudiant Etudiant

	query := db.Model(&Etudiant{})
	if preloadCandidatures {
		query = query.Preload("Candidatures").Preload("Candidatures.OffreStage")
	}

	result := query.First(&etudiant, "id = ?", etudiantId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Etudiant{}, ErrEtudiantNotFound
		}
		slog.Error("sql error in GetEtudiant", "error", result.Error)
		return Etudiant{}, ErrDbAccessFailed
	}

	return etudiant, nil
}

func GetEtudiantByEmail(email string, db *gorm.DB) (Etudiant, error) {
	var etudiant Etudiant

	result := db.First(&etudiant, "email = ?", email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Etudiant{}, ErrEtudiantNotFound
		}
		slog.Error("sql error in GetEtudiantByEmail", "error", result.Error)
		return Etudiant{}, ErrDbAccessFailed
	}

	return etudiant, nil
}

func GetEntreprise(entrepriseId uuid.UUID, db *gorm.DB, preloadOffres bool) (Entreprise, error) {
	var entreprise Entreprise

	query := db.Model(&Entreprise{})
	if preloadOffres {
		query = query.Preload("Offres")
	}

	result := query.First(&entreprise, "id = ?", entrepriseId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Entreprise{}, ErrEntrepriseNotFound
		}
		slog.Error("sql error in GetEntreprise", "error", result.Error)
		return Entreprise{}, ErrDbAccessFailed
	}

	return entreprise, nil
}

func GetEntrepriseByEmail(email string, db *gorm.DB) (Entreprise, error) {
	var entreprise Entreprise

	result := db.First(&entreprise, "email_contact = ?", email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Entreprise{}, ErrEntrepriseNotFound
		}
		slog.Error("sql error in GetEntrepriseByEmail", "error", result.Error)
		return Entreprise{}, ErrDbAccessFailed
	}

	return entreprise, nil
}

func GetOffre(offreId uuid.UUID, db *gorm.DB, preloadEntreprise bool) (OffresStage, error) {
	var offre OffresStage

	query := db.Model(&OffresStage{})
	if preloadEntreprise {
		query = query.Preload("Entreprise")
	}

	result := query.First(&offre, "id = ?", offreId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return OffresStage{}, ErrOffreNotFound
		}
		slog.Error("sql error in GetOffre", "error", result.Error)
		return OffresStage{}, ErrDbAccessFailed
	}

	return offre, nil
}

func GetCandidature(candidatureId uuid.UUID, db *gorm.DB, preloadDeps bool) (Candidature, error) {
	var candidature Candidature

	query := db.Model(&Candidature{})
	if preloadDeps {
		query = query.Preload("Etudiant").Preload("OffreStage").Preload("OffreStage.Entreprise").Preload("Convention").Preload("Convention.Rapport")
	}

	result := query.First(&candidature, "id = ?", candidatureId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Candidature{}, ErrCandidatureNotFound
		}
		slog.Error("sql error in GetCandidature", "error", result.Error)
		return Candidature{}, ErrDbAccessFailed
	}

	return candidature, nil
}

func GetConvention(conventionId uuid.UUID, db *gorm.DB, preloadDeps bool) (Convention, error) {
	var convention Convention

	query := db.Model(&Convention{})
	if preloadDeps {
		query = query.Preload("Candidature").Preload("Candidature.Etudiant").Preload("Candidature.OffreStage").Preload("Candidature.OffreStage.Entreprise").Preload("Rapport")
	}

	result := query.First(&convention, "id = ?", conventionId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Convention{}, ErrConventionNotFound
		}
		slog.Error("sql error in GetConvention", "error", result.Error)
		return Convention{}, ErrDbAccessFailed
	}

	return convention, nil
}

func GetRapport(rapportId uuid.UUID, db *gorm.DB, preloadDeps bool) (RapportStage, error) {
	var rapport RapportStage

	query := db.Model(&RapportStage{})
	if preloadDeps {
		query = query.Preload("Convention").Preload("Convention.Candidature").Preload("Convention.Candidature.Etudiant")
	}

	result := query.First(&rapport, "id = ?", rapportId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return RapportStage{}, ErrRapportNotFound
		}
		slog.Error("sql error in GetRapport", "error", result.Error)
		return RapportStage{}, ErrDbAccessFailed
	}

	return rapport, nil
}
