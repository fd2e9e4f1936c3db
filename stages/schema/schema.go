package schema

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleAdmin      = "Admin"
	RoleEtudiant   = "Etudiant"
	RoleEntreprise = "Entreprise"
)

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Username string `gorm:"unique;size:50;not null"`
	Email    string `gorm:"unique;size:254;not null"`
	Password []byte

	Role string `gorm:"size:20;not null;default:'Etudiant'"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Etudiant is the student profile. Email is the identity key: it matches the
// email of the account the student registered with, and every ownership check
// resolves through it.
type Etudiant struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Nom       string `gorm:"size:100"`
	Prenom    string `gorm:"size:100"`
	Email     string `gorm:"unique;size:254;not null"`
	Telephone string `gorm:"size:30"`
	Filiere   string `gorm:"size:100"`
	Niveau    string `gorm:"size:50"`

	Candidatures []Candidature `gorm:"foreignKey:EtudiantId;constraint:OnDelete:CASCADE"`
}

// Entreprise is the company profile. EmailContact is the identity key.
type Entreprise struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Nom          string `gorm:"size:100"`
	Adresse      string `gorm:"size:200"`
	Telephone    string `gorm:"size:30"`
	EmailContact string `gorm:"unique;size:254;not null"`
	Secteur      string `gorm:"size:100"`

	Offres []OffresStage `gorm:"foreignKey:EntrepriseId;constraint:OnDelete:CASCADE"`
}

type OffresStage struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Titre       string `gorm:"size:200;not null"`
	Description string `gorm:"not null"`
	DureeMois   int    `gorm:"not null"`

	DateDebutSouhaitee *time.Time

	EntrepriseId uuid.UUID `gorm:"type:uuid;not null"`
	Entreprise   *Entreprise

	Candidatures []Candidature `gorm:"foreignKey:OffreStageId;constraint:OnDelete:CASCADE"`
}

// Candidature is a student's application to a posting. At most one exists per
// (EtudiantId, OffreStageId) pair; this is checked in a transaction before
// insert rather than by a database constraint. Version backs the optimistic
// concurrency check on admin edits.
type Candidature struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	DateCandidature time.Time
	Statut          string `gorm:"size:20;not null;default:'En attente'"`
	CheminCV        string `gorm:"size:500"`
	Version         int    `gorm:"not null;default:0"`

	EtudiantId uuid.UUID `gorm:"type:uuid;not null"`
	Etudiant   *Etudiant

	OffreStageId uuid.UUID `gorm:"type:uuid;not null"`
	OffreStage   *OffresStage

	Convention *Convention `gorm:"foreignKey:CandidatureId;constraint:OnDelete:CASCADE"`
}

// Convention is the internship agreement formalizing an accepted application.
// One per Candidature.
type Convention struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	DateSignature time.Time
	DateDebut     time.Time
	DateFin       time.Time

	Statut         string `gorm:"size:20;not null;default:'Signée'"`
	CheminDocument string `gorm:"size:500"`
	Version        int    `gorm:"not null;default:0"`

	CandidatureId uuid.UUID `gorm:"type:uuid;not null;unique"`
	Candidature   *Candidature

	Rapport *RapportStage `gorm:"foreignKey:ConventionId;constraint:OnDelete:CASCADE"`
}

type RapportStage struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Titre         string `gorm:"size:200;not null"`
	NomFichier    string `gorm:"size:254"`
	CheminFichier string `gorm:"size:500"`
	DateDepot     time.Time

	ConventionId uuid.UUID `gorm:"type:uuid;not null;unique"`
	Convention   *Convention
}
