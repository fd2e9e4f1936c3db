package versions

import (
	"gestion_stages/stages/schema"
	"log"

	"gorm.io/gorm"
)

/*
 * The previous backend used different names for indexes/constraints. For
 * simplicity, these migrations just delete the old indexes/constraints and
 * let gorm recreate them.
 */
func dropConstraints(model interface{}, txn *gorm.DB, constraints ...string) error {
	for _, constraint := range constraints {
		if err := txn.Migrator().DropConstraint(model, constraint); err != nil {
			return err
		}
	}
	return nil
}

type statutConversion struct {
	oldStatut int
	newStatut string
}

// The previous backend stored statuses as enum ordinals. The model passed in
// must declare a NewStatut column for the converted values.
func migrateStatutColumn(txn *gorm.DB, model interface{}, conversions []statutConversion) error {
	if err := txn.Migrator().AddColumn(model, "NewStatut"); err != nil {
		return err
	}

	for _, conv := range conversions {
		err := txn.Model(model).Where("statut = ?", conv.oldStatut).Update("new_statut", conv.newStatut).Error
		if err != nil {
			return err
		}
	}

	if err := txn.Migrator().DropColumn(model, "statut"); err != nil {
		return err
	}

	if err := txn.Migrator().RenameColumn(model, "new_statut", "statut"); err != nil {
		return err
	}

	return nil
}

func migrateUser(txn *gorm.DB) error {
	log.Println("migrating table 'users'")

	type User struct {
		Password []byte
		Role     string `gorm:"size:100;not null;default:'Etudiant'"`
	}

	if err := txn.Migrator().RenameColumn(&User{}, "password_hash", "password"); err != nil {
		return err
	}

	// Update data type from string to bytes
	if err := txn.Migrator().AlterColumn(&User{}, "password"); err != nil {
		return err
	}

	if err := txn.Migrator().DropColumn(&User{}, "email_confirmed"); err != nil {
		return err
	}

	if err := dropConstraints(&User{}, txn, "users_email_key", "users_username_key"); err != nil {
		return err
	}

	log.Println("table 'users' migration complete")

	return nil
}

func migrateEtudiant(txn *gorm.DB) error {
	log.Println("migrating table 'etudiants'")

	type Etudiant struct{}

	if err := dropConstraints(&Etudiant{}, txn, "etudiants_email_key"); err != nil {
		return err
	}

	log.Println("table 'etudiants' migration complete")

	return nil
}

func migrateEntreprise(txn *gorm.DB) error {
	log.Println("migrating table 'entreprises'")

	type Entreprise struct{}

	if err := txn.Migrator().RenameColumn(&Entreprise{}, "email", "email_contact"); err != nil {
		return err
	}

	if err := dropConstraints(&Entreprise{}, txn, "entreprises_email_key"); err != nil {
		return err
	}

	log.Println("table 'entreprises' migration complete")

	return nil
}

func migrateOffre(txn *gorm.DB) error {
	log.Println("migrating table 'offres_stages'")

	type OffresStage struct{}

	if err := txn.Migrator().RenameColumn(&OffresStage{}, "duree", "duree_mois"); err != nil {
		return err
	}

	if err := dropConstraints(&OffresStage{}, txn, "offres_stages_entreprise_id_fkey"); err != nil {
		return err
	}

	log.Println("table 'offres_stages' migration complete")

	return nil
}

func migrateCandidature(txn *gorm.DB) error {
	log.Println("migrating table 'candidatures'")

	type Candidature struct {
		Version   int    `gorm:"not null;default:0"`
		NewStatut string `gorm:"size:100"`
	}

	if err := txn.Migrator().AddColumn(&Candidature{}, "Version"); err != nil {
		return err
	}

	conversions := []statutConversion{
		{oldStatut: 0, newStatut: schema.CandidatureEnAttente},
		{oldStatut: 1, newStatut: schema.CandidatureAcceptee},
		{oldStatut: 2, newStatut: schema.CandidatureRefusee},
	}
	if err := migrateStatutColumn(txn, &Candidature{}, conversions); err != nil {
		return err
	}

	if err := txn.Migrator().RenameColumn(&Candidature{}, "cv_path", "chemin_cv"); err != nil {
		return err
	}

	if err := dropConstraints(&Candidature{}, txn, "candidatures_etudiant_id_fkey", "candidatures_offre_stage_id_fkey"); err != nil {
		return err
	}

	log.Println("table 'candidatures' migration complete")

	return nil
}

func migrateConvention(txn *gorm.DB) error {
	log.Println("migrating table 'conventions'")

	type Convention struct {
		Version   int    `gorm:"not null;default:0"`
		NewStatut string `gorm:"size:100"`
	}

	if err := txn.Migrator().AddColumn(&Convention{}, "Version"); err != nil {
		return err
	}

	conversions := []statutConversion{
		{oldStatut: 0, newStatut: schema.ConventionSignee},
		{oldStatut: 1, newStatut: schema.ConventionEnCours},
		{oldStatut: 2, newStatut: schema.ConventionTerminee},
	}
	if err := migrateStatutColumn(txn, &Convention{}, conversions); err != nil {
		return err
	}

	if err := txn.Migrator().RenameColumn(&Convention{}, "document_path", "chemin_document"); err != nil {
		return err
	}

	if err := dropConstraints(&Convention{}, txn, "conventions_candidature_id_fkey", "conventions_candidature_id_key"); err != nil {
		return err
	}

	log.Println("table 'conventions' migration complete")

	return nil
}

func migrateRapport(txn *gorm.DB) error {
	log.Println("migrating table 'rapport_stages'")

	type RapportStage struct{}

	if err := txn.Migrator().RenameColumn(&RapportStage{}, "fichier_path", "chemin_fichier"); err != nil {
		return err
	}

	if err := dropConstraints(&RapportStage{}, txn, "rapport_stages_convention_id_fkey", "rapport_stages_convention_id_key"); err != nil {
		return err
	}

	log.Println("table 'rapport_stages' migration complete")

	return nil
}

func dropUnusedTables(txn *gorm.DB) error {
	tables := []string{"__EFMigrationsHistory", "asp_net_roles", "asp_net_user_roles", "asp_net_user_claims", "asp_net_user_logins", "asp_net_user_tokens", "asp_net_role_claims"}
	for _, table := range tables {
		err := txn.Migrator().DropTable(table)
		if err != nil {
			return err
		}
	}

	return nil
}

func Migration_1_initial_migration(txn *gorm.DB) error {
	log.Println("performing initial migration to new backend schema")

	if err := migrateUser(txn); err != nil {
		return err
	}

	if err := migrateEtudiant(txn); err != nil {
		return err
	}

	if err := migrateEntreprise(txn); err != nil {
		return err
	}

	if err := migrateOffre(txn); err != nil {
		return err
	}

	if err := migrateCandidature(txn); err != nil {
		return err
	}

	if err := migrateConvention(txn); err != nil {
		return err
	}

	if err := migrateRapport(txn); err != nil {
		return err
	}

	if err := dropUnusedTables(txn); err != nil {
		return err
	}

	err := txn.Migrator().AutoMigrate(
		&schema.User{}, &schema.Etudiant{}, &schema.Entreprise{},
		&schema.OffresStage{}, &schema.Candidature{}, &schema.Convention{},
		&schema.RapportStage{},
	)
	if err != nil {
		return err
	}

	log.Println("initial migration to new backend schema complete")

	return nil
}
