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

type RapportService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	storage  storage.Storage
}

func (s *RapportService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.With(auth.RequireAction(auth.EntityRapport, auth.ActionView)).Get("/list", s.List)
	r.With(auth.RequireAction(auth.EntityRapport, auth.ActionCreate)).Get("/conventions", s.EligibleConventions)
	r.With(auth.RequireAction(auth.EntityRapport, auth.ActionView)).Get("/{rapport_id}", s.Get)
	r.With(auth.RequireAction(auth.EntityRapport, auth.ActionView)).Get("/{rapport_id}/fichier", s.DownloadFichier)

	r.With(auth.RequireAction(auth.EntityRapport, auth.ActionCreate), checkSufficientStorage(s.storage)).Post("/create", s.Create)
	r.With(auth.RequireAction(auth.EntityRapport, auth.ActionEdit), checkSufficientStorage(s.storage)).Post("/{rapport_id}", s.Update)
	r.With(auth.RequireAction(auth.EntityRapport, auth.ActionDelete)).Delete("/{rapport_id}", s.Delete)

	return r
}

type RapportInfo struct {
	Id         uuid.UUID `json:"id"`
	Titre      string    `json:"titre"`
	NomFichier string    `json:"nom_fichier"`
	DateDepot  time.Time `json:"date_depot"`

	ConventionId uuid.UUID `json:"convention_id"`
	EtudiantNom  string    `json:"etudiant_nom,omitempty"`
}

func convertToRapportInfo(rapport *schema.RapportStage) RapportInfo {
	info := RapportInfo{
		Id:           rapport.Id,
		Titre:        rapport.Titre,
		NomFichier:   rapport.NomFichier,
		DateDepot:    rapport.DateDepot,
		ConventionId: rapport.ConventionId,
	}
	if rapport.Convention != nil && rapport.Convention.Candidature != nil && rapport.Convention.Candidature.Etudiant != nil {
		etudiant := rapport.Convention.Candidature.Etudiant
		info.EtudiantNom = fmt.Sprintf("%v %v", etudiant.Prenom, etudiant.Nom)
	}
	return info
}

// etudiantForRapportScope resolves the calling student's profile when the
// policy restricts them to their own reports. Returns nil for callers with
// full access.
func (s *RapportService) etudiantForScope(user schema.User, action auth.Action, db *gorm.DB) (*schema.Etudiant, error) {
	if auth.ActionScope(auth.EntityRapport, action, user.Role) != auth.OwnOnly {
		return nil, nil
	}

	etudiant, err := auth.EtudiantForUser(user, db)
	if err != nil {
		if errors.Is(err, auth.ErrProfileIncomplete) {
			return nil, CodedError(err, http.StatusConflict)
		}
		return nil, CodedError(err, http.StatusInternalServerError)
	}
	return &etudiant, nil
}

func checkRapportOwnership(etudiant *schema.Etudiant, convention *schema.Convention) error {
	if etudiant == nil {
		return nil
	}
	if convention.Candidature == nil || convention.Candidature.EtudiantId != etudiant.Id {
		return CodedError(fmt.Errorf("etudiant %v does not own convention %v", etudiant.Id, convention.Id), http.StatusForbidden)
	}
	return nil
}

func (s *RapportService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	etudiant, err := s.etudiantForScope(user, auth.ActionView, s.db)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	query := s.db.Model(&schema.RapportStage{}).
		Preload("Convention").Preload("Convention.Candidature").Preload("Convention.Candidature.Etudiant")
	if etudiant != nil {
		query = query.Joins("JOIN conventions ON conventions.id = rapport_stages.convention_id").
			Joins("JOIN candidatures ON candidatures.id = conventions.candidature_id").
			Where("candidatures.etudiant_id = ?", etudiant.Id)
	}

	var rapports []schema.RapportStage
	result := query.Order("date_depot desc").Find(&rapports)
	if result.Error != nil {
		slog.Error("sql error listing rapports", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing rapports: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]RapportInfo, 0, len(rapports))
	for _, rapport := range rapports {
		infos = append(infos, convertToRapportInfo(&rapport))
	}
	utils.WriteJsonResponse(w, infos)
}

// EligibleConventions lists the agreements a report can still be attached
// to: for a student, their own agreements; for an admin, all of them. Only
// agreements without an existing report qualify.
func (s *RapportService) EligibleConventions(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	etudiant, err := s.etudiantForScope(user, auth.ActionCreate, s.db)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	query := s.db.Model(&schema.Convention{}).
		Preload("Candidature").Preload("Candidature.Etudiant").Preload("Candidature.OffreStage").
		Where("conventions.id NOT IN (?)", s.db.Model(&schema.RapportStage{}).Select("convention_id"))
	if etudiant != nil {
		query = query.Joins("JOIN candidatures ON candidatures.id = conventions.candidature_id").
			Where("candidatures.etudiant_id = ?", etudiant.Id)
	}

	var conventions []schema.Convention
	result := query.Find(&conventions)
	if result.Error != nil {
		slog.Error("sql error listing eligible conventions", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing eligible conventions: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]ConventionInfo, 0, len(conventions))
	for _, c := range conventions {
		infos = append(infos, convertToConventionInfo(&c))
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *RapportService) Get(w http.ResponseWriter, r *http.Request) {
	rapportId, err := utils.URLParamUUID(r, "rapport_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rapport, err := schema.GetRapport(rapportId, s.db, true)
	if err != nil {
		if errors.Is(err, schema.ErrRapportNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	etudiant, err := s.etudiantForScope(user, auth.ActionView, s.db)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}
	if err := checkRapportOwnership(etudiant, rapport.Convention); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToRapportInfo(&rapport))
}

func (s *RapportService) DownloadFichier(w http.ResponseWriter, r *http.Request) {
	rapportId, err := utils.URLParamUUID(r, "rapport_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rapport, err := schema.GetRapport(rapportId, s.db, true)
	if err != nil {
		if errors.Is(err, schema.ErrRapportNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	etudiant, err := s.etudiantForScope(user, auth.ActionView, s.db)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}
	if err := checkRapportOwnership(etudiant, rapport.Convention); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	if rapport.CheminFichier == "" {
		http.Error(w, "no file attached to rapport", http.StatusNotFound)
		return
	}

	file, err := s.storage.Read(rapport.CheminFichier)
	if err != nil {
		http.Error(w, fmt.Sprintf("error reading rapport file: %v", err), http.StatusInternalServerError)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/pdf")
	if _, err := io.Copy(w, file); err != nil {
		slog.Error("error streaming rapport file to response", "rapport_id", rapportId, "error", err)
	}
}

func (s *RapportService) Create(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(documentUploadMetric)
	defer timer.ObserveDuration()

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	fichier, err := pdfFromRequest(r, "fichier")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			http.Error(w, "a report file is required", http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, fmt.Sprintf("error uploading rapport file: %v", err), GetResponseCode(err))
		return
	}
	defer fichier.data.Close()

	conventionId, err := uuid.Parse(r.FormValue("convention_id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid 'convention_id' form value: %v", err), http.StatusBadRequest)
		return
	}

	titre := r.FormValue("titre")
	if titre == "" {
		http.Error(w, "titre is required", http.StatusUnprocessableEntity)
		return
	}

	rapport := schema.RapportStage{
		Id:           uuid.New(),
		Titre:        titre,
		NomFichier:   fichier.filename,
		DateDepot:    time.Now().UTC(),
		ConventionId: conventionId,
	}
	rapport.CheminFichier = storage.RapportPath(rapport.Id)

	err = s.db.Transaction(func(txn *gorm.DB) error {
		convention, err := schema.GetConvention(conventionId, txn, true)
		if err != nil {
			if errors.Is(err, schema.ErrConventionNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		etudiant, err := s.etudiantForScope(user, auth.ActionCreate, txn)
		if err != nil {
			return err
		}
		if err := checkRapportOwnership(etudiant, &convention); err != nil {
			return err
		}

		if convention.Rapport != nil {
			return CodedError(fmt.Errorf("a rapport already exists for convention %v", conventionId), http.StatusConflict)
		}

		result := txn.Create(&rapport)
		if result.Error != nil {
			slog.Error("sql error creating rapport", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating rapport: %v", err), GetResponseCode(err))
		return
	}

	if err := s.storage.Write(rapport.CheminFichier, fichier.data); err != nil {
		http.Error(w, fmt.Sprintf("error storing rapport file: %v", err), http.StatusInternalServerError)
		return
	}

	slog.Info("rapport created", "rapport_id", rapport.Id, "convention_id", conventionId)

	utils.WriteJsonResponse(w, convertToRapportInfo(&rapport))
}

// Update changes the title and optionally replaces the report file. The file
// path is stable per report, so a replacement overwrites the old document.
func (s *RapportService) Update(w http.ResponseWriter, r *http.Request) {
	rapportId, err := utils.URLParamUUID(r, "rapport_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	fichier, err := pdfFromRequest(r, "fichier")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		http.Error(w, fmt.Sprintf("error uploading rapport file: %v", err), GetResponseCode(err))
		return
	}
	if fichier != nil {
		defer fichier.data.Close()
	}

	titre := r.FormValue("titre")
	if titre == "" {
		http.Error(w, "titre is required", http.StatusUnprocessableEntity)
		return
	}

	var fichierPath string

	err = s.db.Transaction(func(txn *gorm.DB) error {
		rapport, err := schema.GetRapport(rapportId, txn, true)
		if err != nil {
			if errors.Is(err, schema.ErrRapportNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		etudiant, err := s.etudiantForScope(user, auth.ActionEdit, txn)
		if err != nil {
			return err
		}
		if err := checkRapportOwnership(etudiant, rapport.Convention); err != nil {
			return err
		}

		rapport.Titre = titre
		if fichier != nil {
			rapport.NomFichier = fichier.filename
			rapport.DateDepot = time.Now().UTC()
			if rapport.CheminFichier == "" {
				rapport.CheminFichier = storage.RapportPath(rapportId)
			}
		}
		fichierPath = rapport.CheminFichier

		rapport.Convention = nil
		result := txn.Save(&rapport)
		if result.Error != nil {
			slog.Error("sql error updating rapport", "rapport_id", rapportId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating rapport: %v", err), GetResponseCode(err))
		return
	}

	if fichier != nil {
		if err := s.storage.Write(fichierPath, fichier.data); err != nil {
			http.Error(w, fmt.Sprintf("error storing rapport file: %v", err), http.StatusInternalServerError)
			return
		}
	}

	utils.WriteSuccess(w)
}

func (s *RapportService) Delete(w http.ResponseWriter, r *http.Request) {
	rapportId, err := utils.URLParamUUID(r, "rapport_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var orphanedFiles []string

	err = s.db.Transaction(func(txn *gorm.DB) error {
		rapport, err := schema.GetRapport(rapportId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrRapportNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if rapport.CheminFichier != "" {
			orphanedFiles = append(orphanedFiles, rapport.CheminFichier)
		}

		result := txn.Delete(&schema.RapportStage{}, "id = ?", rapportId)
		if result.Error != nil {
			slog.Error("sql error deleting rapport", "rapport_id", rapportId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting rapport: %v", err), GetResponseCode(err))
		return
	}

	deleteStoredFiles(s.storage, orphanedFiles)

	utils.WriteSuccess(w)
}
