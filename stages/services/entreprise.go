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

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EntrepriseService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	storage  storage.Storage
}

func (s *EntrepriseService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.With(auth.RequireAction(auth.EntityEntreprise, auth.ActionView)).Get("/list", s.List)
	r.With(auth.RequireAction(auth.EntityEntreprise, auth.ActionView)).Get("/{entreprise_id}", s.Get)
	r.With(auth.RequireAction(auth.EntityEntreprise, auth.ActionCreate)).Post("/create", s.Create)
	r.With(auth.RequireAction(auth.EntityEntreprise, auth.ActionEdit)).Post("/{entreprise_id}", s.Update)
	r.With(auth.RequireAction(auth.EntityEntreprise, auth.ActionDelete)).Delete("/{entreprise_id}", s.Delete)

	return r
}

type EntrepriseInfo struct {
	Id           uuid.UUID `json:"id"`
	Nom          string    `json:"nom"`
	Adresse      string    `json:"adresse"`
	Telephone    string    `json:"telephone"`
	EmailContact string    `json:"email_contact"`
	Secteur      string    `json:"secteur"`
}

func convertToEntrepriseInfo(entreprise *schema.Entreprise) EntrepriseInfo {
	return EntrepriseInfo{
		Id:           entreprise.Id,
		Nom:          entreprise.Nom,
		Adresse:      entreprise.Adresse,
		Telephone:    entreprise.Telephone,
		EmailContact: entreprise.EmailContact,
		Secteur:      entreprise.Secteur,
	}
}

const defaultPageSize = 10

// EntrepriseListResponse carries the pagination counters alongside the page
// so that callers never need a side channel for them.
type EntrepriseListResponse struct {
	Entreprises []EntrepriseInfo `json:"entreprises"`
	TotalCount  int64            `json:"total_count"`
	Page        int              `json:"page"`
	PageSize    int              `json:"page_size"`
	HasPrevious bool             `json:"has_previous"`
	HasNext     bool             `json:"has_next"`
}

func (s *EntrepriseService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if auth.ActionScope(auth.EntityEntreprise, auth.ActionView, user.Role) == auth.OwnOnly {
		entreprise, err := auth.EntrepriseForUser(user, s.db)
		if err != nil {
			if errors.Is(err, auth.ErrProfileIncomplete) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		utils.WriteJsonResponse(w, EntrepriseListResponse{
			Entreprises: []EntrepriseInfo{convertToEntrepriseInfo(&entreprise)},
			TotalCount:  1, Page: 1, PageSize: defaultPageSize,
		})
		return
	}

	page, err := utils.QueryParamInt(r, "page", 1)
	if err != nil || page < 1 {
		http.Error(w, "invalid 'page' query parameter", http.StatusBadRequest)
		return
	}
	pageSize, err := utils.QueryParamInt(r, "page_size", defaultPageSize)
	if err != nil || pageSize < 1 {
		http.Error(w, "invalid 'page_size' query parameter", http.StatusBadRequest)
		return
	}

	query := s.db.Model(&schema.Entreprise{})
	if secteur := r.URL.Query().Get("secteur"); secteur != "" {
		query = query.Where("secteur = ?", secteur)
	}
	if search := r.URL.Query().Get("search"); search != "" {
		pattern := "%" + search + "%"
		query = query.Where("nom LIKE ? OR adresse LIKE ?", pattern, pattern)
	}

	var total int64
	if result := query.Count(&total); result.Error != nil {
		slog.Error("sql error counting entreprises", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing entreprises: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	var entreprises []schema.Entreprise
	result := query.Order("nom").Offset((page - 1) * pageSize).Limit(pageSize).Find(&entreprises)
	if result.Error != nil {
		slog.Error("sql error listing entreprises", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing entreprises: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]EntrepriseInfo, 0, len(entreprises))
	for _, e := range entreprises {
		infos = append(infos, convertToEntrepriseInfo(&e))
	}

	utils.WriteJsonResponse(w, EntrepriseListResponse{
		Entreprises: infos,
		TotalCount:  total,
		Page:        page,
		PageSize:    pageSize,
		HasPrevious: page > 1,
		HasNext:     int64(page*pageSize) < total,
	})
}

func checkEntrepriseOwnership(user schema.User, entreprise *schema.Entreprise, action auth.Action, db *gorm.DB) error {
	if auth.ActionScope(auth.EntityEntreprise, action, user.Role) != auth.OwnOnly {
		return nil
	}

	own, err := auth.EntrepriseForUser(user, db)
	if err != nil {
		if errors.Is(err, auth.ErrProfileIncomplete) {
			return CodedError(err, http.StatusConflict)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	if own.Id != entreprise.Id {
		return CodedError(fmt.Errorf("user %v cannot access entreprise %v", user.Id, entreprise.Id), http.StatusForbidden)
	}
	return nil
}

func (s *EntrepriseService) Get(w http.ResponseWriter, r *http.Request) {
	entrepriseId, err := utils.URLParamUUID(r, "entreprise_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	entreprise, err := schema.GetEntreprise(entrepriseId, s.db, false)
	if err != nil {
		if errors.Is(err, schema.ErrEntrepriseNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := checkEntrepriseOwnership(user, &entreprise, auth.ActionView, s.db); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToEntrepriseInfo(&entreprise))
}

type entrepriseRequest struct {
	Nom          string `json:"nom"`
	Adresse      string `json:"adresse"`
	Telephone    string `json:"telephone"`
	EmailContact string `json:"email_contact"`
	Secteur      string `json:"secteur"`
}

func (s *EntrepriseService) Create(w http.ResponseWriter, r *http.Request) {
	var params entrepriseRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.EmailContact == "" {
		http.Error(w, "email_contact is required", http.StatusUnprocessableEntity)
		return
	}

	entreprise := schema.Entreprise{
		Id:           uuid.New(),
		Nom:          params.Nom,
		Adresse:      params.Adresse,
		Telephone:    params.Telephone,
		EmailContact: params.EmailContact,
		Secteur:      params.Secteur,
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		var existing schema.Entreprise
		result := txn.Limit(1).Find(&existing, "email_contact = ?", params.EmailContact)
		if result.Error != nil {
			slog.Error("sql error checking for existing entreprise email", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(fmt.Errorf("an entreprise with contact email %v already exists", params.EmailContact), http.StatusConflict)
		}

		result = txn.Create(&entreprise)
		if result.Error != nil {
			slog.Error("sql error creating entreprise", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating entreprise: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToEntrepriseInfo(&entreprise))
}

func (s *EntrepriseService) Update(w http.ResponseWriter, r *http.Request) {
	entrepriseId, err := utils.URLParamUUID(r, "entreprise_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params entrepriseRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		entreprise, err := schema.GetEntreprise(entrepriseId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrEntrepriseNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if err := checkEntrepriseOwnership(user, &entreprise, auth.ActionEdit, txn); err != nil {
			return err
		}

		entreprise.Nom = params.Nom
		entreprise.Adresse = params.Adresse
		entreprise.Telephone = params.Telephone
		entreprise.Secteur = params.Secteur
		if params.EmailContact != "" {
			entreprise.EmailContact = params.EmailContact
		}

		result := txn.Save(&entreprise)
		if result.Error != nil {
			slog.Error("sql error updating entreprise", "entreprise_id", entrepriseId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating entreprise: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

// deleteEntrepriseRows removes a company profile with its postings and every
// candidature tree attached to those postings.
func deleteEntrepriseRows(txn *gorm.DB, entrepriseId uuid.UUID) ([]string, error) {
	var offres []schema.OffresStage
	result := txn.Find(&offres, "entreprise_id = ?", entrepriseId)
	if result.Error != nil {
		slog.Error("sql error listing offres for entreprise delete", "entreprise_id", entrepriseId, "error", result.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	paths := make([]string, 0)
	for _, offre := range offres {
		offrePaths, err := deleteOffreRows(txn, offre.Id)
		if err != nil {
			return nil, err
		}
		paths = append(paths, offrePaths...)
	}

	result = txn.Delete(&schema.Entreprise{}, "id = ?", entrepriseId)
	if result.Error != nil {
		slog.Error("sql error deleting entreprise", "entreprise_id", entrepriseId, "error", result.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	return paths, nil
}

func (s *EntrepriseService) Delete(w http.ResponseWriter, r *http.Request) {
	entrepriseId, err := utils.URLParamUUID(r, "entreprise_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var orphanedFiles []string

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkEntrepriseExists(txn, entrepriseId); err != nil {
			return err
		}

		paths, err := deleteEntrepriseRows(txn, entrepriseId)
		if err != nil {
			return err
		}
		orphanedFiles = paths
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting entreprise: %v", err), GetResponseCode(err))
		return
	}

	deleteStoredFiles(s.storage, orphanedFiles)

	utils.WriteSuccess(w)
}
