package schema

import "fmt"

const (
	CandidatureEnAttente = "En attente"
	CandidatureAcceptee  = "Acceptée"
	CandidatureRefusee   = "Refusée"
)

const (
	ConventionSignee   = "Signée"
	ConventionEnCours  = "En cours"
	ConventionTerminee = "Terminée"
)

func CheckValidCandidatureStatut(statut string) error {
	switch statut {
	case CandidatureEnAttente, CandidatureAcceptee, CandidatureRefusee:
		return nil
	default:
		return fmt.Errorf("invalid candidature statut '%v'", statut)
	}
}

func CheckValidConventionStatut(statut string) error {
	switch statut {
	case ConventionSignee, ConventionEnCours, ConventionTerminee:
		return nil
	default:
		return fmt.Errorf("invalid convention statut '%v'", statut)
	}
}
