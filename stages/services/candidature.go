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
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

type CandidatureService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	storage  storage.Storage
}

func (s *CandidatureService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.With(auth.RequireAction(auth.EntityCandidature, auth.ActionView)).Get("/list", s.List)
	r.With(auth.RequireAction(auth.EntityCandidature, auth.ActionView)).Get("/{candidature_id}", s.Get)
	r.With(auth.RequireAction(auth.EntityCandidature, auth.ActionView)).Get("/{candidature_id}/cv", s.DownloadCv)

	r.With(auth.RequireAction(auth.EntityCandidature, auth.ActionCreate), checkSufficientStorage(s.storage)).Post("/create", s.Create)

	r.With(auth.RequireAction(auth.EntityCandidature, auth.ActionStatus)).Post("/{candidature_id}/accept", s.Accept)
	r.With(auth.RequireAction(auth.EntityCandidature, auth.ActionStatus)).Post("/{candidature_id}/reject", s.Reject)

	r.With(auth.RequireAction(auth.EntityCandidature, auth.ActionEdit), checkSufficientStorage(s.storage)).Post("/{candidature_id}", s.Update)
	r.With(auth.RequireAction(auth.EntityCandidature, auth.ActionDelete)).Delete("/{candidature_id}", s.Delete)

	return r
}

type CandidatureInfo struct {
	Id              uuid.UUID `json:"id"`
	DateCandidature time.Time `json:"date_candidature"`
	Statut          string    `json:"statut"`
	CheminCV        string    `json:"chemin_cv"`
	Version         int       `json:"version"`

	EtudiantId   uuid.UUID `json:"etudiant_id"`
	EtudiantNom  string    `json:"etudiant_nom,omitempty"`
	OffreStageId uuid.UUID `json:"offre_stage_id"`
	OffreTitre   string    `json:"offre_titre,omitempty"`
}

func convertToCandidatureInfo(candidature *schema.Candidature) CandidatureInfo {
	info := CandidatureInfo{
		Id:              candidature.Id,
		DateCandidature: candidature.DateCandidature,
		Statut:          candidature.Statut,
		CheminCV:        candidature.CheminCV,
		Version:         candidature.Version,
		EtudiantId:      candidature.EtudiantId,
		OffreStageId:    candidature.OffreStageId,
	}
	if candidature.Etudiant != nil {
		info.EtudiantNom = fmt.Sprintf("%v %v", candidature.Etudiant.Prenom, candidature.Etudiant.Nom)
	}
	if candidature.OffreStage != nil {
		info.OffreTitre = candidature.OffreStage.Titre
	}
	return info
}

func (s *CandidatureService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	query := s.db.Model(&schema.Candidature{}).Preload("Etudiant").Preload("OffreStage")

	if auth.ActionScope(auth.EntityCandidature, auth.ActionView, user.Role) == auth.OwnOnly {
		switch user.Role {
		case schema.RoleEtudiant:
			etudiant, err := auth.EtudiantForUser(user, s.db)
			if err != nil {
				if errors.Is(err, auth.ErrProfileIncomplete) {
					http.Error(w, err.Error(), http.StatusConflict)
					return
				}
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			query = query.Where("etudiant_id = ?", etudiant.Id)
		case schema.RoleEntreprise:
			entreprise, err := auth.EntrepriseForUser(user, s.db)
			if err != nil {
				if errors.Is(err, auth.ErrProfileIncomplete) {
					http.Error(w, err.Error(), http.StatusConflict)
					return
				}
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			query = query.Joins("JOIN offres_stages ON offres_stages.id = candidatures.offre_stage_id").Where("offres_stages.entreprise_id = ?", entreprise.Id)
		}
	}

	if offreParam := r.URL.Query().Get("offre_id"); offreParam != "" {
		offreId, err := uuid.Parse(offreParam)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid 'offre_id' query parameter: %v", err), http.StatusBadRequest)
			return
		}
		query = query.Where("offre_stage_id = ?", offreId)
	}
	if statut := r.URL.Query().Get("statut"); statut != "" {
		if err := schema.CheckValidCandidatureStatut(statut); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		query = query.Where("candidatures.statut = ?", statut)
	}

	var candidatures []schema.Candidature
	result := query.Order("date_candidature desc").Find(&candidatures)
	if result.Error != nil {
		slog.Error("sql error listing candidatures", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing candidatures: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]CandidatureInfo, 0, len(candidatures))
	for _, c := range candidatures {
		infos = append(infos, convertToCandidatureInfo(&c))
	}
	utils.WriteJsonResponse(w, infos)
}

// checkCandidatureOwnership resolves the own-rows restriction for the caller.
// A student owns their applications; a company owns applications to its
// postings. Runs after the row has been loaded with its posting preloaded.
func checkCandidatureOwnership(user schema.User, candidature *schema.Candidature, action auth.Action, db *gorm.DB) error {
	if auth.ActionScope(auth.EntityCandidature, action, user.Role) != auth.OwnOnly {
		return nil
	}

	switch user.Role {
	case schema.RoleEtudiant:
		own, err := auth.EtudiantForUser(user, db)
		if err != nil {
			if errors.Is(err, auth.ErrProfileIncomplete) {
				return CodedError(err, http.StatusConflict)
			}
			return CodedError(err, http.StatusInternalServerError)
		}
		if own.Id != candidature.EtudiantId {
			return CodedError(fmt.Errorf("user %v cannot access candidature %v", user.Id, candidature.Id), http.StatusForbidden)
		}
	case schema.RoleEntreprise:
		own, err := auth.EntrepriseForUser(user, db)
		if err != nil {
			if errors.Is(err, auth.ErrProfileIncomplete) {
				return CodedError(err, http.StatusConflict)
			}
			return CodedError(err, http.StatusInternalServerError)
		}
		if candidature.OffreStage == nil || candidature.OffreStage.EntrepriseId != own.Id {
			return CodedError(fmt.Errorf("user %v cannot access candidature %v", user.Id, candidature.Id), http.StatusForbidden)
		}
	}
	return nil
}

func (s *CandidatureService) Get(w http.ResponseWriter, r *http.Request) {
	candidatureId, err := utils.URLParamUUID(r, "candidature_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	candidature, err := schema.GetCandidature(candidatureId, s.db, true)
	if err != nil {
		if errors.Is(err, schema.ErrCandidatureNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := checkCandidatureOwnership(user, &candidature, auth.ActionView, s.db); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToCandidatureInfo(&candidature))
}

func (s *CandidatureService) DownloadCv(w http.ResponseWriter, r *http.Request) {
	candidatureId, err := utils.URLParamUUID(r, "candidature_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	candidature, err := schema.GetCandidature(candidatureId, s.db, true)
	if err != nil {
		if errors.Is(err, schema.ErrCandidatureNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := checkCandidatureOwnership(user, &candidature, auth.ActionView, s.db); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	if candidature.CheminCV == "" {
		http.Error(w, "no cv attached to candidature", http.StatusNotFound)
		return
	}

	file, err := s.storage.Read(candidature.CheminCV)
	if err != nil {
		http.Error(w, fmt.Sprintf("error reading cv: %v", err), http.StatusInternalServerError)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/pdf")
	if _, err := io.Copy(w, file); err != nil {
		slog.Error("error streaming cv to response", "candidature_id", candidatureId, "error", err)
	}
}

// Create records a student's application to a posting. The CV is validated
// and stored before the row is written; if the row write fails the file is
// removed again. Duplicate (etudiant, offre) pairs are rejected before
// anything is persisted.
func (s *CandidatureService) Create(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(candidatureCreateMetric)
	defer timer.ObserveDuration()

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cv, err := pdfFromRequest(r, "cv")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			http.Error(w, "a cv file is required to apply", http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, fmt.Sprintf("error uploading cv: %v", err), GetResponseCode(err))
		return
	}
	defer cv.data.Close()

	offreId, err := uuid.Parse(r.FormValue("offre_id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid 'offre_id' form value: %v", err), http.StatusBadRequest)
		return
	}

	var etudiantId uuid.UUID
	if auth.ActionScope(auth.EntityCandidature, auth.ActionCreate, user.Role) == auth.OwnOnly {
		etudiant, err := auth.EtudiantForUser(user, s.db)
		if err != nil {
			if errors.Is(err, auth.ErrProfileIncomplete) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		etudiantId = etudiant.Id
	} else {
		etudiantId, err = uuid.Parse(r.FormValue("etudiant_id"))
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid 'etudiant_id' form value: %v", err), http.StatusBadRequest)
			return
		}
	}

	candidature := schema.Candidature{
		Id:              uuid.New(),
		DateCandidature: time.Now().UTC(),
		Statut:          schema.CandidatureEnAttente,
		EtudiantId:      etudiantId,
		OffreStageId:    offreId,
	}
	candidature.CheminCV = storage.CvPath(candidature.Id)

	if err := s.storage.Write(candidature.CheminCV, cv.data); err != nil {
		http.Error(w, fmt.Sprintf("error storing cv: %v", err), http.StatusInternalServerError)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkOffreExists(txn, offreId); err != nil {
			return err
		}
		if err := checkEtudiantExists(txn, etudiantId); err != nil {
			return err
		}

		var duplicate schema.Candidature
		result := txn.Limit(1).Find(&duplicate, "etudiant_id = ? AND offre_stage_id = ?", etudiantId, offreId)
		if result.Error != nil {
			slog.Error("sql error checking for duplicate candidature", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(fmt.Errorf("etudiant %v has already applied to offre %v", etudiantId, offreId), http.StatusConflict)
		}

		result = txn.Create(&candidature)
		if result.Error != nil {
			slog.Error("sql error creating candidature", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		deleteStoredFiles(s.storage, []string{candidature.CheminCV})
		http.Error(w, fmt.Sprintf("error creating candidature: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("candidature created", "candidature_id", candidature.Id, "etudiant_id", etudiantId, "offre_id", offreId)

	utils.WriteJsonResponse(w, convertToCandidatureInfo(&candidature))
}

// setStatut performs the accept/reject transition. The update is guarded on
// the current status being "En attente" so that two concurrent decisions
// cannot both win; the losing request is classified by re-checking existence.
func (s *CandidatureService) setStatut(w http.ResponseWriter, r *http.Request, statut string) {
	candidatureId, err := utils.URLParamUUID(r, "candidature_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		candidature, err := schema.GetCandidature(candidatureId, txn, true)
		if err != nil {
			if errors.Is(err, schema.ErrCandidatureNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if err := checkCandidatureOwnership(user, &candidature, auth.ActionStatus, txn); err != nil {
			return err
		}

		result := txn.Model(&schema.Candidature{}).
			Where("id = ? AND statut = ?", candidatureId, schema.CandidatureEnAttente).
			Updates(map[string]interface{}{"statut": statut, "version": gorm.Expr("version + 1")})
		if result.Error != nil {
			slog.Error("sql error updating candidature statut", "candidature_id", candidatureId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			return resolveVersionConflict(txn, func(txn *gorm.DB) error {
				return checkCandidatureExists(txn, candidatureId)
			}, "candidature")
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating candidature statut: %v", err), GetResponseCode(err))
		return
	}

	if statut == schema.CandidatureAcceptee {
		candidatureAcceptedMetric.Inc()
	} else {
		candidatureRejectedMetric.Inc()
	}

	slog.Info("candidature statut updated", "candidature_id", candidatureId, "statut", statut)

	utils.WriteSuccess(w)
}

func (s *CandidatureService) Accept(w http.ResponseWriter, r *http.Request) {
	s.setStatut(w, r, schema.CandidatureAcceptee)
}

func (s *CandidatureService) Reject(w http.ResponseWriter, r *http.Request) {
	s.setStatut(w, r, schema.CandidatureRefusee)
}

// Update is the admin edit: it may set any valid status and replace the CV.
// The caller must supply the version it read; a stale version loses to
// whichever request committed first.
func (s *CandidatureService) Update(w http.ResponseWriter, r *http.Request) {
	candidatureId, err := utils.URLParamUUID(r, "candidature_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cv, err := pdfFromRequest(r, "cv")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		http.Error(w, fmt.Sprintf("error uploading cv: %v", err), GetResponseCode(err))
		return
	}
	if cv != nil {
		defer cv.data.Close()
	}

	statut := r.FormValue("statut")
	if err := schema.CheckValidCandidatureStatut(statut); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	version, err := strconv.Atoi(r.FormValue("version"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid 'version' form value: %v", err), http.StatusBadRequest)
		return
	}

	var cvPath string

	err = s.db.Transaction(func(txn *gorm.DB) error {
		candidature, err := schema.GetCandidature(candidatureId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrCandidatureNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}
		cvPath = candidature.CheminCV
		if cvPath == "" {
			cvPath = storage.CvPath(candidatureId)
		}

		updates := map[string]interface{}{"statut": statut, "version": gorm.Expr("version + 1")}
		if cv != nil {
			updates["chemin_cv"] = cvPath
		}

		result := txn.Model(&schema.Candidature{}).
			Where("id = ? AND version = ?", candidatureId, version).
			Updates(updates)
		if result.Error != nil {
			slog.Error("sql error updating candidature", "candidature_id", candidatureId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected == 0 {
			return resolveVersionConflict(txn, func(txn *gorm.DB) error {
				return checkCandidatureExists(txn, candidatureId)
			}, "candidature")
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating candidature: %v", err), GetResponseCode(err))
		return
	}

	// Document paths are stable per candidature, so storing the replacement
	// overwrites the previous file and nothing is orphaned.
	if cv != nil {
		if err := s.storage.Write(cvPath, cv.data); err != nil {
			http.Error(w, fmt.Sprintf("error storing cv: %v", err), http.StatusInternalServerError)
			return
		}
	}

	utils.WriteSuccess(w)
}

func (s *CandidatureService) Delete(w http.ResponseWriter, r *http.Request) {
	candidatureId, err := utils.URLParamUUID(r, "candidature_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var orphanedFiles []string

	err = s.db.Transaction(func(txn *gorm.DB) error {
		candidature, err := schema.GetCandidature(candidatureId, txn, true)
		if err != nil {
			if errors.Is(err, schema.ErrCandidatureNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if err := checkCandidatureOwnership(user, &candidature, auth.ActionDelete, txn); err != nil {
			return err
		}

		paths, err := deleteCandidatureRows(txn, candidature)
		if err != nil {
			return err
		}
		orphanedFiles = paths
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting candidature: %v", err), GetResponseCode(err))
		return
	}

	deleteStoredFiles(s.storage, orphanedFiles)

	slog.Info("candidature deleted", "candidature_id", candidatureId)

	utils.WriteSuccess(w)
}
