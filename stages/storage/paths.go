package storage

import (
	"fmt"

	"github.com/google/uuid"
)

// Uploaded documents are stored under stable per-entity paths so that
// replacing a document overwrites the previous one and cascade deletes
// know exactly what to remove.

func CvPath(candidatureId uuid.UUID) string {
	return fmt.Sprintf("cv/%v.pdf", candidatureId)
}

func ConventionDocPath(conventionId uuid.UUID) string {
	return fmt.Sprintf("conventions/%v.pdf", conventionId)
}

func RapportPath(rapportId uuid.UUID) string {
	return fmt.Sprintf("rapports/%v.pdf", rapportId)
}
