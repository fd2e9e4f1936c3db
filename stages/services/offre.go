package services

import (
	"errors"
	"fmt"
	"gestion_stages/stages/auth"
	"gestion_stages/stages/schema"
	"gestion_stages/stages/storage"
	"gestion_stages/utils"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OffreService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	storage  storage.Storage
}

func (s *OffreService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.With(auth.RequireAction(auth.EntityOffre, auth.ActionView)).Get("/list", s.List)
	r.With(auth.RequireAction(auth.EntityOffre, auth.ActionView)).Get("/{offre_id}", s.Get)
	r.With(auth.RequireAction(auth.EntityOffre, auth.ActionCreate)).Post("/create", s.Create)
	r.With(auth.RequireAction(auth.EntityOffre, auth.ActionEdit)).Post("/{offre_id}", s.Update)
	r.With(auth.RequireAction(auth.EntityOffre, auth.ActionDelete)).Delete("/{offre_id}", s.Delete)

	return r
}

type OffreInfo struct {
	Id                 uuid.UUID  `json:"id"`
	Titre              string     `json:"titre"`
	Description        string     `json:"description"`
	DureeMois          int        `json:"duree_mois"`
	DateDebutSouhaitee *time.Time `json:"date_debut_souhaitee,omitempty"`
	EntrepriseId       uuid.UUID  `json:"entreprise_id"`
	EntrepriseNom      string     `json:"entreprise_nom,omitempty"`
}

func convertToOffreInfo(offre *schema.OffresStage) OffreInfo {
	info := OffreInfo{
		Id:                 offre.Id,
		Titre:              offre.Titre,
		Description:        offre.Description,
		DureeMois:          offre.DureeMois,
		DateDebutSouhaitee: offre.DateDebutSouhaitee,
		EntrepriseId:       offre.EntrepriseId,
	}
	if offre.Entreprise != nil {
		info.EntrepriseNom = offre.Entreprise.Nom
	}
	return info
}

// OffreListResponse includes the distinct duration and sector values present
// in the store so that search forms can offer them as filter choices.
type OffreListResponse struct {
	Offres   []OffreInfo `json:"offres"`
	Durees   []int       `json:"durees"`
	Secteurs []string    `json:"secteurs"`
}

func (s *OffreService) listFacets() ([]int, []string, error) {
	var durees []int
	result := s.db.Model(&schema.OffresStage{}).Distinct("duree_mois").Order("duree_mois").Pluck("duree_mois", &durees)
	if result.Error != nil {
		slog.Error("sql error listing offre durations", "error", result.Error)
		return nil, nil, schema.ErrDbAccessFailed
	}

	var secteurs []string
	result = s.db.Model(&schema.Entreprise{}).Distinct("secteur").Where("secteur <> ''").Order("secteur").Pluck("secteur", &secteurs)
	if result.Error != nil {
		slog.Error("sql error listing entreprise secteurs", "error", result.Error)
		return nil, nil, schema.ErrDbAccessFailed
	}

	return durees, secteurs, nil
}

func (s *OffreService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	query := s.db.Model(&schema.OffresStage{}).Preload("Entreprise")

	if auth.ActionScope(auth.EntityOffre, auth.ActionView, user.Role) == auth.OwnOnly {
		entreprise, err := auth.EntrepriseForUser(user, s.db)
		if err != nil {
			if errors.Is(err, auth.ErrProfileIncomplete) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		query = query.Where("entreprise_id = ?", entreprise.Id)
	}

	if search := r.URL.Query().Get("search"); search != "" {
		pattern := "%" + search + "%"
		query = query.Where("titre LIKE ? OR description LIKE ?", pattern, pattern)
	}
	if r.URL.Query().Get("duree") != "" {
		duree, err := utils.QueryParamInt(r, "duree", 0)
		if err != nil {
			http.Error(w, "invalid 'duree' query parameter", http.StatusBadRequest)
			return
		}
		query = query.Where("duree_mois = ?", duree)
	}
	if secteur := r.URL.Query().Get("secteur"); secteur != "" {
		query = query.Joins("JOIN entreprises ON entreprises.id = offres_stages.entreprise_id").Where("entreprises.secteur = ?", secteur)
	}

	var offres []schema.OffresStage
	result := query.Order("titre").Find(&offres)
	if result.Error != nil {
		slog.Error("sql error listing offres", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing offres: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	durees, secteurs, err := s.listFacets()
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing offres: %v", err), http.StatusInternalServerError)
		return
	}

	infos := make([]OffreInfo, 0, len(offres))
	for _, o := range offres {
		infos = append(infos, convertToOffreInfo(&o))
	}
	utils.WriteJsonResponse(w, OffreListResponse{Offres: infos, Durees: durees, Secteurs: secteurs})
}

func checkOffreOwnership(user schema.User, offre *schema.OffresStage, action auth.Action, db *gorm.DB) error {
	if auth.ActionScope(auth.EntityOffre, action, user.Role) != auth.OwnOnly {
		return nil
	}

	own, err := auth.EntrepriseForUser(user, db)
	if err != nil {
		if errors.Is(err, auth.ErrProfileIncomplete) {
			return CodedError(err, http.StatusConflict)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	if own.Id != offre.EntrepriseId {
		return CodedError(fmt.Errorf("user %v cannot access offre %v", user.Id, offre.Id), http.StatusForbidden)
	}
	return nil
}

func (s *OffreService) Get(w http.ResponseWriter, r *http.Request) {
	offreId, err := utils.URLParamUUID(r, "offre_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	offre, err := schema.GetOffre(offreId, s.db, true)
	if err != nil {
		if errors.Is(err, schema.ErrOffreNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := checkOffreOwnership(user, &offre, auth.ActionView, s.db); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToOffreInfo(&offre))
}

type offreRequest struct {
	Titre              string     `json:"titre"`
	Description        string     `json:"description"`
	DureeMois          int        `json:"duree_mois"`
	DateDebutSouhaitee *time.Time `json:"date_debut_souhaitee"`
}

// Create publishes a posting under the calling company's own profile. Only
// companies post; the policy table gives neither students nor admins create
// access here.
func (s *OffreService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params offreRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Titre == "" || params.Description == "" {
		http.Error(w, "titre and description are required", http.StatusUnprocessableEntity)
		return
	}
	if params.DureeMois < 1 {
		http.Error(w, "duree_mois must be at least 1", http.StatusUnprocessableEntity)
		return
	}

	entreprise, err := auth.EntrepriseForUser(user, s.db)
	if err != nil {
		if errors.Is(err, auth.ErrProfileIncomplete) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	offre := schema.OffresStage{
		Id:                 uuid.New(),
		Titre:              params.Titre,
		Description:        params.Description,
		DureeMois:          params.DureeMois,
		DateDebutSouhaitee: params.DateDebutSouhaitee,
		EntrepriseId:       entreprise.Id,
	}

	result := s.db.Create(&offre)
	if result.Error != nil {
		slog.Error("sql error creating offre", "error", result.Error)
		http.Error(w, fmt.Sprintf("error creating offre: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, convertToOffreInfo(&offre))
}

func (s *OffreService) Update(w http.ResponseWriter, r *http.Request) {
	offreId, err := utils.URLParamUUID(r, "offre_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params offreRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Titre == "" || params.Description == "" {
		http.Error(w, "titre and description are required", http.StatusUnprocessableEntity)
		return
	}
	if params.DureeMois < 1 {
		http.Error(w, "duree_mois must be at least 1", http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		offre, err := schema.GetOffre(offreId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrOffreNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if err := checkOffreOwnership(user, &offre, auth.ActionEdit, txn); err != nil {
			return err
		}

		offre.Titre = params.Titre
		offre.Description = params.Description
		offre.DureeMois = params.DureeMois
		offre.DateDebutSouhaitee = params.DateDebutSouhaitee

		result := txn.Save(&offre)
		if result.Error != nil {
			slog.Error("sql error updating offre", "offre_id", offreId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating offre: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

// deleteOffreRows removes a posting and the candidature trees attached to it.
func deleteOffreRows(txn *gorm.DB, offreId uuid.UUID) ([]string, error) {
	var candidatures []schema.Candidature
	result := txn.Preload("Convention").Preload("Convention.Rapport").Find(&candidatures, "offre_stage_id = ?", offreId)
	if result.Error != nil {
		slog.Error("sql error listing candidatures for offre delete", "offre_id", offreId, "error", result.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	paths := make([]string, 0)
	for _, candidature := range candidatures {
		candidaturePaths, err := deleteCandidatureRows(txn, candidature)
		if err != nil {
			return nil, err
		}
		paths = append(paths, candidaturePaths...)
	}

	result = txn.Delete(&schema.OffresStage{}, "id = ?", offreId)
	if result.Error != nil {
		slog.Error("sql error deleting offre", "offre_id", offreId, "error", result.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	return paths, nil
}

func (s *OffreService) Delete(w http.ResponseWriter, r *http.Request) {
	offreId, err := utils.URLParamUUID(r, "offre_id")
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
		offre, err := schema.GetOffre(offreId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrOffreNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if err := checkOffreOwnership(user, &offre, auth.ActionDelete, txn); err != nil {
			return err
		}

		paths, err := deleteOffreRows(txn, offreId)
		if err != nil {
			return err
		}
		orphanedFiles = paths
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting offre: %v", err), GetResponseCode(err))
		return
	}

	deleteStoredFiles(s.storage, orphanedFiles)

	utils.WriteSuccess(w)
}
