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

type EtudiantService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	storage  storage.Storage
}

func (s *EtudiantService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.With(auth.RequireAction(auth.EntityEtudiant, auth.ActionView)).Get("/list", s.List)
	r.With(auth.RequireAction(auth.EntityEtudiant, auth.ActionView)).Get("/{etudiant_id}", s.Get)
	r.With(auth.RequireAction(auth.EntityEtudiant, auth.ActionCreate)).Post("/create", s.Create)
	r.With(auth.RequireAction(auth.EntityEtudiant, auth.ActionEdit)).Post("/{etudiant_id}", s.Update)
	r.With(auth.RequireAction(auth.EntityEtudiant, auth.ActionDelete)).Delete("/{etudiant_id}", s.Delete)

	return r
}

type EtudiantInfo struct {
	Id        uuid.UUID `json:"id"`
	Nom       string    `json:"nom"`
	Prenom    string    `json:"prenom"`
	Email     string    `json:"email"`
	Telephone string    `json:"telephone"`
	Filiere   string    `json:"filiere"`
	Niveau    string    `json:"niveau"`
}

func convertToEtudiantInfo(etudiant *schema.Etudiant) EtudiantInfo {
	return EtudiantInfo{
		Id:        etudiant.Id,
		Nom:       etudiant.Nom,
		Prenom:    etudiant.Prenom,
		Email:     etudiant.Email,
		Telephone: etudiant.Telephone,
		Filiere:   etudiant.Filiere,
		Niveau:    etudiant.Niveau,
	}
}

// List returns all students for an admin, filtered by the optional filiere,
// niveau, and search query params. A student sees only their own profile.
func (s *EtudiantService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if auth.ActionScope(auth.EntityEtudiant, auth.ActionView, user.Role) == auth.OwnOnly {
		etudiant, err := auth.EtudiantForUser(user, s.db)
		if err != nil {
			if errors.Is(err, auth.ErrProfileIncomplete) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		utils.WriteJsonResponse(w, []EtudiantInfo{convertToEtudiantInfo(&etudiant)})
		return
	}

	query := s.db.Model(&schema.Etudiant{})
	if filiere := r.URL.Query().Get("filiere"); filiere != "" {
		query = query.Where("filiere = ?", filiere)
	}
	if niveau := r.URL.Query().Get("niveau"); niveau != "" {
		query = query.Where("niveau = ?", niveau)
	}
	if search := r.URL.Query().Get("search"); search != "" {
		pattern := "%" + search + "%"
		query = query.Where("nom LIKE ? OR prenom LIKE ? OR email LIKE ?", pattern, pattern, pattern)
	}

	var etudiants []schema.Etudiant
	result := query.Order("nom, prenom").Find(&etudiants)
	if result.Error != nil {
		slog.Error("sql error listing etudiants", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing etudiants: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]EtudiantInfo, 0, len(etudiants))
	for _, e := range etudiants {
		infos = append(infos, convertToEtudiantInfo(&e))
	}
	utils.WriteJsonResponse(w, infos)
}

// checkEtudiantOwnership enforces the own-profile restriction for student
// callers. Runs after the target row has been loaded, so a missing id has
// already produced NotFound.
func checkEtudiantOwnership(user schema.User, etudiant *schema.Etudiant, action auth.Action, db *gorm.DB) error {
	if auth.ActionScope(auth.EntityEtudiant, action, user.Role) != auth.OwnOnly {
		return nil
	}

	own, err := auth.EtudiantForUser(user, db)
	if err != nil {
		if errors.Is(err, auth.ErrProfileIncomplete) {
			return CodedError(err, http.StatusConflict)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	if own.Id != etudiant.Id {
		return CodedError(fmt.Errorf("user %v cannot access etudiant %v", user.Id, etudiant.Id), http.StatusForbidden)
	}
	return nil
}

func (s *EtudiantService) Get(w http.ResponseWriter, r *http.Request) {
	etudiantId, err := utils.URLParamUUID(r, "etudiant_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	etudiant, err := schema.GetEtudiant(etudiantId, s.db, false)
	if err != nil {
		if errors.Is(err, schema.ErrEtudiantNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := checkEtudiantOwnership(user, &etudiant, auth.ActionView, s.db); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToEtudiantInfo(&etudiant))
}

type etudiantRequest struct {
	Nom       string `json:"nom"`
	Prenom    string `json:"prenom"`
	Email     string `json:"email"`
	Telephone string `json:"telephone"`
	Filiere   string `json:"filiere"`
	Niveau    string `json:"niveau"`
}

func (s *EtudiantService) Create(w http.ResponseWriter, r *http.Request) {
	var params etudiantRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Email == "" {
		http.Error(w, "email is required", http.StatusUnprocessableEntity)
		return
	}

	etudiant := schema.Etudiant{
		Id:        uuid.New(),
		Nom:       params.Nom,
		Prenom:    params.Prenom,
		Email:     params.Email,
		Telephone: params.Telephone,
		Filiere:   params.Filiere,
		Niveau:    params.Niveau,
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		var existing schema.Etudiant
		result := txn.Limit(1).Find(&existing, "email = ?", params.Email)
		if result.Error != nil {
			slog.Error("sql error checking for existing etudiant email", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(fmt.Errorf("an etudiant with email %v already exists", params.Email), http.StatusConflict)
		}

		result = txn.Create(&etudiant)
		if result.Error != nil {
			slog.Error("sql error creating etudiant", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating etudiant: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToEtudiantInfo(&etudiant))
}

func (s *EtudiantService) Update(w http.ResponseWriter, r *http.Request) {
	etudiantId, err := utils.URLParamUUID(r, "etudiant_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params etudiantRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		etudiant, err := schema.GetEtudiant(etudiantId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrEtudiantNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if err := checkEtudiantOwnership(user, &etudiant, auth.ActionEdit, txn); err != nil {
			return err
		}

		etudiant.Nom = params.Nom
		etudiant.Prenom = params.Prenom
		etudiant.Telephone = params.Telephone
		etudiant.Filiere = params.Filiere
		etudiant.Niveau = params.Niveau
		if params.Email != "" {
			etudiant.Email = params.Email
		}

		result := txn.Save(&etudiant)
		if result.Error != nil {
			slog.Error("sql error updating etudiant", "etudiant_id", etudiantId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating etudiant: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

// deleteEtudiantRows removes a student profile along with every candidature
// tree hanging off of it, returning the storage paths of the documents that
// belonged to the deleted rows.
func deleteEtudiantRows(txn *gorm.DB, etudiantId uuid.UUID) ([]string, error) {
	var candidatures []schema.Candidature
	result := txn.Preload("Convention").Preload("Convention.Rapport").Find(&candidatures, "etudiant_id = ?", etudiantId)
	if result.Error != nil {
		slog.Error("sql error listing candidatures for etudiant delete", "etudiant_id", etudiantId, "error", result.Error)
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

	result = txn.Delete(&schema.Etudiant{}, "id = ?", etudiantId)
	if result.Error != nil {
		slog.Error("sql error deleting etudiant", "etudiant_id", etudiantId, "error", result.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	return paths, nil
}

func (s *EtudiantService) Delete(w http.ResponseWriter, r *http.Request) {
	etudiantId, err := utils.URLParamUUID(r, "etudiant_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var orphanedFiles []string

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkEtudiantExists(txn, etudiantId); err != nil {
			return err
		}

		paths, err := deleteEtudiantRows(txn, etudiantId)
		if err != nil {
			return err
		}
		orphanedFiles = paths
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting etudiant: %v", err), GetResponseCode(err))
		return
	}

	deleteStoredFiles(s.storage, orphanedFiles)

	utils.WriteSuccess(w)
}
