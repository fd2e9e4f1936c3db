package services

import (
	"errors"
	"fmt"
	"gestion_stages/stages/auth"
	"gestion_stages/stages/schema"
	"gestion_stages/stages/storage"
	"gestion_stages/utils"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

type ConventionService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	storage  storage.Storage
}

func (s *ConventionService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.With(auth.RequireAction(auth.EntityConvention, auth.ActionView)).Get("/list", s.List)
	r.With(auth.RequireAction(auth.EntityConvention, auth.ActionCreate)).Get("/eligible-candidatures", s.EligibleCandidatures)
	r.With(auth.RequireAction(auth.EntityConvention, auth.ActionView)).Get("/{convention_id}", s.Get)
	r.With(auth.RequireAction(auth.EntityConvention, auth.ActionView)).Get("/{convention_id}/document", s.DownloadDocument)

	r.With(auth.RequireAction(auth.EntityConvention, auth.ActionCreate)).Post("/create", s.Create)
	r.With(auth.RequireAction(auth.EntityConvention, auth.ActionEdit)).Post("/{convention_id}", s.Update)
	r.With(auth.RequireAction(auth.EntityConvention, auth.ActionEdit), checkSufficientStorage(s.storage)).Post("/{convention_id}/document", s.UploadDocument)
	r.With(auth.RequireAction(auth.EntityConvention, auth.ActionDelete)).Delete("/{convention_id}", s.Delete)

	return r
}

type ConventionInfo struct {
	Id            uuid.UUID `json:"id"`
	DateSignature time.Time `json:"date_signature"`
	DateDebut     time.Time `json:"date_debut"`
	DateFin       time.Time `json:"date_fin"`
	Statut        string    `json:"statut"`
	Version       int       `json:"version"`

	CandidatureId uuid.UUID `json:"candidature_id"`
	EtudiantNom   string    `json:"etudiant_nom,omitempty"`
	OffreTitre    string    `json:"offre_titre,omitempty"`
	HasDocument   bool      `json:"has_document"`
	HasRapport    bool      `json:"has_rapport"`
}

func convertToConventionInfo(convention *schema.Convention) ConventionInfo {
	info := ConventionInfo{
		Id:            convention.Id,
		DateSignature: convention.DateSignature,
		DateDebut:     convention.DateDebut,
		DateFin:       convention.DateFin,
		Statut:        convention.Statut,
		Version:       convention.Version,
		CandidatureId: convention.CandidatureId,
		HasDocument:   convention.CheminDocument != "",
		HasRapport:    convention.Rapport != nil,
	}
	if convention.Candidature != nil {
		if convention.Candidature.Etudiant != nil {
			info.EtudiantNom = fmt.Sprintf("%v %v", convention.Candidature.Etudiant.Prenom, convention.Candidature.Etudiant.Nom)
		}
		if convention.Candidature.OffreStage != nil {
			info.OffreTitre = convention.Candidature.OffreStage.Titre
		}
	}
	return info
}

func (s *ConventionService) List(w http.ResponseWriter, r *http.Request) {
	query := s.db.Model(&schema.Convention{}).
		Preload("Candidature").Preload("Candidature.Etudiant").Preload("Candidature.OffreStage").Preload("Rapport")

	if statut := r.URL.Query().Get("statut"); statut != "" {
		if err := schema.CheckValidConventionStatut(statut); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		query = query.Where("statut = ?", statut)
	}

	var conventions []schema.Convention
	result := query.Order("date_signature desc").Find(&conventions)
	if result.Error != nil {
		slog.Error("sql error listing conventions", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing conventions: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]ConventionInfo, 0, len(conventions))
	for _, c := range conventions {
		infos = append(infos, convertToConventionInfo(&c))
	}
	utils.WriteJsonResponse(w, infos)
}

// EligibleCandidatures lists the accepted applications that do not yet have
// an agreement. Only accepted applications qualify; an agreement for a
// pending or rejected application is never valid.
func (s *ConventionService) EligibleCandidatures(w http.ResponseWriter, r *http.Request) {
	var candidatures []schema.Candidature
	result := s.db.Preload("Etudiant").Preload("OffreStage").
		Where("statut = ?", schema.CandidatureAcceptee).
		Where("id NOT IN (?)", s.db.Model(&schema.Convention{}).Select("candidature_id")).
		Find(&candidatures)
	if result.Error != nil {
		slog.Error("sql error listing eligible candidatures", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing eligible candidatures: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]CandidatureInfo, 0, len(candidatures))
	for _, c := range candidatures {
		infos = append(infos, convertToCandidatureInfo(&c))
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *ConventionService) Get(w http.ResponseWriter, r *http.Request) {
	conventionId, err := utils.URLParamUUID(r, "convention_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	convention, err := schema.GetConvention(conventionId, s.db, true)
	if err != nil {
		if errors.Is(err, schema.ErrConventionNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, convertToConventionInfo(&convention))
}

type conventionCreateRequest struct {
	CandidatureId uuid.UUID  `json:"candidature_id"`
	DateSignature *time.Time `json:"date_signature"`
	DateDebut     time.Time  `json:"date_debut"`
	DateFin       time.Time  `json:"date_fin"`
}

func (s *ConventionService) Create(w http.ResponseWriter, r *http.Request) {
	var params conventionCreateRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.DateDebut.IsZero() || params.DateFin.IsZero() {
		http.Error(w, "date_debut and date_fin are required", http.StatusUnprocessableEntity)
		return
	}
	if params.DateFin.Before(params.DateDebut) {
		http.Error(w, "date_fin must not be before date_debut", http.StatusUnprocessableEntity)
		return
	}

	dateSignature := time.Now().UTC()
	if params.DateSignature != nil {
		dateSignature = *params.DateSignature
	}

	convention := schema.Convention{
		Id:            uuid.New(),
		DateSignature: dateSignature,
		DateDebut:     params.DateDebut,
		DateFin:       params.DateFin,
		Statut:        schema.ConventionSignee,
		CandidatureId: params.CandidatureId,
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		candidature, err := schema.GetCandidature(params.CandidatureId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrCandidatureNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if candidature.Statut != schema.CandidatureAcceptee {
			return CodedError(fmt.Errorf("a convention requires an accepted candidature, candidature %v has statut '%v'", candidature.Id, candidature.Statut), http.StatusUnprocessableEntity)
		}

		var existing schema.Convention
		result := txn.Limit(1).Find(&existing, "candidature_id = ?", params.CandidatureId)
		if result.Error != nil {
			slog.Error("sql error checking for existing convention", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(fmt.Errorf("a convention already exists for candidature %v", params.CandidatureId), http.StatusConflict)
		}

		result = txn.Create(&convention)
		if result.Error != nil {
			slog.Error("sql error creating convention", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating convention: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("convention created", "convention_id", convention.Id, "candidature_id", params.CandidatureId)

	utils.WriteJsonResponse(w, convertToConventionInfo(&convention))
}

type conventionUpdateRequest struct {
	Statut    string     `json:"statut"`
	DateDebut *time.Time `json:"date_debut"`
	DateFin   *time.Time `json:"date_fin"`
	Version   int        `json:"version"`
}

func (s *ConventionService) Update(w http.ResponseWriter, r *http.Request) {
	conventionId, err := utils.URLParamUUID(r, "convention_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params conventionUpdateRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := schema.CheckValidConventionStatut(params.Statut); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkConventionExists(txn, conventionId); err != nil {
			return err
		}

		updates := map[string]interface{}{"statut": params.Statut, "version": gorm.Expr("version + 1")}
		if params.DateDebut != nil {
			updates["date_debut"] = *params.DateDebut
		}
		if params.DateFin != nil {
			updates["date_fin"] = *params.DateFin
		}

		result := txn.Model(&schema.Convention{}).
			Where("id = ? AND version = ?", conventionId, params.Version).
			Updates(updates)
		if result.Error != nil {
			slog.Error("sql error updating convention", "convention_id", conventionId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			return resolveVersionConflict(txn, func(txn *gorm.DB) error {
				return checkConventionExists(txn, conventionId)
			}, "convention")
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating convention: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *ConventionService) UploadDocument(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(documentUploadMetric)
	defer timer.ObserveDuration()

	conventionId, err := utils.URLParamUUID(r, "convention_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	document, err := pdfFromRequest(r, "document")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			http.Error(w, "a document file is required", http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, fmt.Sprintf("error uploading document: %v", err), GetResponseCode(err))
		return
	}
	defer document.data.Close()

	path := storage.ConventionDocPath(conventionId)

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkConventionExists(txn, conventionId); err != nil {
			return err
		}

		result := txn.Model(&schema.Convention{}).Where("id = ?", conventionId).Update("chemin_document", path)
		if result.Error != nil {
			slog.Error("sql error updating convention document path", "convention_id", conventionId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error uploading document: %v", err), GetResponseCode(err))
		return
	}

	if err := s.storage.Write(path, document.data); err != nil {
		http.Error(w, fmt.Sprintf("error storing document: %v", err), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

func (s *ConventionService) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	conventionId, err := utils.URLParamUUID(r, "convention_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	convention, err := schema.GetConvention(conventionId, s.db, false)
	if err != nil {
		if errors.Is(err, schema.ErrConventionNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if convention.CheminDocument == "" {
		http.Error(w, "no document attached to convention", http.StatusNotFound)
		return
	}

	file, err := s.storage.Read(convention.CheminDocument)
	if err != nil {
		http.Error(w, fmt.Sprintf("error reading document: %v", err), http.StatusInternalServerError)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/pdf")
	if _, err := io.Copy(w, file); err != nil {
		slog.Error("error streaming document to response", "convention_id", conventionId, "error", err)
	}
}

// deleteConventionRows removes an agreement and its report, returning the
// paths of their stored documents.
func deleteConventionRows(txn *gorm.DB, convention schema.Convention) ([]string, error) {
	paths := make([]string, 0, 2)

	if convention.Rapport != nil {
		if convention.Rapport.CheminFichier != "" {
			paths = append(paths, convention.Rapport.CheminFichier)
		}
		result := txn.Delete(&schema.RapportStage{}, "id = ?", convention.Rapport.Id)
		if result.Error != nil {
			slog.Error("sql error deleting rapport in convention cascade", "error", result.Error)
			return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
	}

	if convention.CheminDocument != "" {
		paths = append(paths, convention.CheminDocument)
	}
	result := txn.Delete(&schema.Convention{}, "id = ?", convention.Id)
	if result.Error != nil {
		slog.Error("sql error deleting convention", "error", result.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	return paths, nil
}

func (s *ConventionService) Delete(w http.ResponseWriter, r *http.Request) {
	conventionId, err := utils.URLParamUUID(r, "convention_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var orphanedFiles []string

	err = s.db.Transaction(func(txn *gorm.DB) error {
		convention, err := schema.GetConvention(conventionId, txn, true)
		if err != nil {
			if errors.Is(err, schema.ErrConventionNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		paths, err := deleteConventionRows(txn, convention)
		if err != nil {
			return err
		}
		orphanedFiles = paths
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting convention: %v", err), GetResponseCode(err))
		return
	}

	deleteStoredFiles(s.storage, orphanedFiles)

	utils.WriteSuccess(w)
}
