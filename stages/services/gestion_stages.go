package services

import (
	"gestion_stages/stages/auth"
	"gestion_stages/stages/storage"
	"gestion_stages/utils"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

type GestionStages struct {
	user        UserService
	etudiant    EtudiantService
	entreprise  EntrepriseService
	offre       OffreService
	candidature CandidatureService
	convention  ConventionService
	rapport     RapportService

	db *gorm.DB
}

func NewGestionStages(db *gorm.DB, store storage.Storage, userAuth auth.IdentityProvider) GestionStages {
	return GestionStages{
		user:        UserService{db: db, userAuth: userAuth, storage: store},
		etudiant:    EtudiantService{db: db, userAuth: userAuth, storage: store},
		entreprise:  EntrepriseService{db: db, userAuth: userAuth, storage: store},
		offre:       OffreService{db: db, userAuth: userAuth, storage: store},
		candidature: CandidatureService{db: db, userAuth: userAuth, storage: store},
		convention:  ConventionService{db: db, userAuth: userAuth, storage: store},
		rapport:     RapportService{db: db, userAuth: userAuth, storage: store},
		db:          db,
	}
}

func (g *GestionStages) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/user", g.user.Routes())
	r.Mount("/etudiant", g.etudiant.Routes())
	r.Mount("/entreprise", g.entreprise.Routes())
	r.Mount("/offre", g.offre.Routes())
	r.Mount("/candidature", g.candidature.Routes())
	r.Mount("/convention", g.convention.Routes())
	r.Mount("/rapport", g.rapport.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	return r
}
