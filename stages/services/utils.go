package services

import (
	"errors"
	"fmt"
	"gestion_stages/stages/schema"
	"gestion_stages/stages/storage"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

const maxUploadBytes = 10 << 20 // 10 MiB

type uploadedFile struct {
	filename string
	data     multipart.File
}

// pdfFromRequest extracts and validates the uploaded document from a
// multipart form. Validation happens fully before any persistence call so
// that a rejected upload leaves no partial writes behind. Callers that treat
// the file as optional check for http.ErrMissingFile.
func pdfFromRequest(r *http.Request, field string) (*uploadedFile, error) {
	// The slack beyond the limit lets an oversized file reach the size check
	// below instead of failing the form parse with an opaque error.
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes+64*1024)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, CodedError(fmt.Errorf("unable to parse upload form: %w", err), http.StatusUnprocessableEntity)
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, err
		}
		return nil, CodedError(fmt.Errorf("unable to read uploaded file '%v': %w", field, err), http.StatusUnprocessableEntity)
	}

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		file.Close()
		return nil, CodedError(fmt.Errorf("file '%v' is not a pdf, only pdf uploads are accepted", header.Filename), http.StatusUnprocessableEntity)
	}

	if header.Size > maxUploadBytes {
		file.Close()
		return nil, CodedError(fmt.Errorf("file '%v' exceeds the %v MiB upload limit", header.Filename, maxUploadBytes/(1<<20)), http.StatusUnprocessableEntity)
	}

	return &uploadedFile{filename: header.Filename, data: file}, nil
}

// deleteStoredFiles removes document files after their owning rows are gone.
// Failures are logged and skipped, an orphaned file is not worth failing the
// request over once the rows are committed.
func deleteStoredFiles(store storage.Storage, paths []string) {
	for _, path := range paths {
		if err := store.Delete(path); err != nil {
			slog.Error("error deleting stored file", "path", path, "error", err)
		}
	}
}

func checkEtudiantExists(txn *gorm.DB, etudiantId uuid.UUID) error {
	if _, err := schema.GetEtudiant(etudiantId, txn, false); err != nil {
		if errors.Is(err, schema.ErrEtudiantNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkEntrepriseExists(txn *gorm.DB, entrepriseId uuid.UUID) error {
	if _, err := schema.GetEntreprise(entrepriseId, txn, false); err != nil {
		if errors.Is(err, schema.ErrEntrepriseNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkOffreExists(txn *gorm.DB, offreId uuid.UUID) error {
	if _, err := schema.GetOffre(offreId, txn, false); err != nil {
		if errors.Is(err, schema.ErrOffreNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkCandidatureExists(txn *gorm.DB, candidatureId uuid.UUID) error {
	if _, err := schema.GetCandidature(candidatureId, txn, false); err != nil {
		if errors.Is(err, schema.ErrCandidatureNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkConventionExists(txn *gorm.DB, conventionId uuid.UUID) error {
	if _, err := schema.GetConvention(conventionId, txn, false); err != nil {
		if errors.Is(err, schema.ErrConventionNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

// resolveVersionConflict classifies a guarded update that matched no rows.
// The existence check runs once: if the row is gone the caller sees NotFound,
// otherwise another request got there first and the conflict is surfaced.
func resolveVersionConflict(txn *gorm.DB, checkExists func(*gorm.DB) error, entity string) error {
	if err := checkExists(txn); err != nil {
		return err
	}
	return CodedError(fmt.Errorf("%v was modified concurrently, please retry", entity), http.StatusConflict)
}

// deleteCandidatureRows removes a candidature and its dependents inside the
// given transaction and returns the storage paths of the documents that
// belonged to the deleted rows. Callers delete the files after the
// transaction commits, file removal is not transactional with the row
// deletes.
func deleteCandidatureRows(txn *gorm.DB, candidature schema.Candidature) ([]string, error) {
	paths := make([]string, 0, 3)

	if candidature.Convention != nil {
		conventionPaths, err := deleteConventionRows(txn, *candidature.Convention)
		if err != nil {
			return nil, err
		}
		paths = append(paths, conventionPaths...)
	}

	if candidature.CheminCV != "" {
		paths = append(paths, candidature.CheminCV)
	}
	result := txn.Delete(&schema.Candidature{}, "id = ?", candidature.Id)
	if result.Error != nil {
		slog.Error("sql error deleting candidature", "error", result.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	return paths, nil
}

func checkDiskUsage(store storage.Storage) error {
	stats, err := store.Usage()
	if err != nil {
		slog.Error("unable to get disk usage from storage", "error", err)
		return CodedError(errors.New("unable to get disk usage"), http.StatusInternalServerError)
	}
	oneMib := uint64(1024 * 1024)
	// Either 20% disk needs to be free or 20Gb (in case the disk is very large)
	threshold := min(stats.TotalBytes/5, 20*1024*oneMib)
	if stats.FreeBytes < threshold {
		used := (stats.TotalBytes - stats.FreeBytes) / oneMib
		total := stats.TotalBytes / oneMib
		delta := (threshold - stats.FreeBytes) / oneMib
		return CodedError(fmt.Errorf("insufficient disk space available, usage: %d/%d Mib, please clear %d Mib", used, total, delta), http.StatusInsufficientStorage)
	}
	return nil
}

func checkSufficientStorage(store storage.Storage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			if err := checkDiskUsage(store); err != nil {
				slog.Error(err.Error())
				http.Error(w, err.Error(), GetResponseCode(err))
				return
			}
			next.ServeHTTP(w, r)
		}

		return http.HandlerFunc(handler)
	}
}
