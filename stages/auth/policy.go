package auth

import (
	"errors"
	"fmt"
	"gestion_stages/stages/schema"
	"net/http"

	"gorm.io/gorm"
)

type Entity string

const (
	EntityEtudiant    Entity = "etudiant"
	EntityEntreprise  Entity = "entreprise"
	EntityOffre       Entity = "offre"
	EntityCandidature Entity = "candidature"
	EntityConvention  Entity = "convention"
	EntityRapport     Entity = "rapport"
)

type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionStatus Action = "status"
)

type accessScope int // Private so that no other scopes can be defined

const (
	NoAccess  accessScope = 0
	OwnOnly   accessScope = 1
	AllAccess accessScope = 2
)

func scopeToString(scope accessScope) string {
	switch scope {
	case NoAccess:
		return "None"
	case OwnOnly:
		return "Own"
	case AllAccess:
		return "All"
	default:
		return "invalid scope"
	}
}

// policyTable is the single place that decides which role may perform which
// action on which entity, and whether the result is restricted to rows the
// user owns. Ownership itself is resolved against the current profile row
// for the user's email, never from token claims, since profiles are mutable.
var policyTable = map[Entity]map[Action]map[string]accessScope{
	EntityEtudiant: {
		ActionView:   {schema.RoleAdmin: AllAccess, schema.RoleEtudiant: OwnOnly},
		ActionEdit:   {schema.RoleAdmin: AllAccess, schema.RoleEtudiant: OwnOnly},
		ActionCreate: {schema.RoleAdmin: AllAccess},
		ActionDelete: {schema.RoleAdmin: AllAccess},
	},
	EntityEntreprise: {
		ActionView:   {schema.RoleAdmin: AllAccess, schema.RoleEntreprise: OwnOnly},
		ActionEdit:   {schema.RoleAdmin: AllAccess, schema.RoleEntreprise: OwnOnly},
		ActionCreate: {schema.RoleAdmin: AllAccess},
		ActionDelete: {schema.RoleAdmin: AllAccess},
	},
	EntityOffre: {
		ActionView:   {schema.RoleAdmin: AllAccess, schema.RoleEtudiant: AllAccess, schema.RoleEntreprise: OwnOnly},
		ActionCreate: {schema.RoleEntreprise: OwnOnly},
		ActionEdit:   {schema.RoleAdmin: AllAccess, schema.RoleEntreprise: OwnOnly},
		ActionDelete: {schema.RoleAdmin: AllAccess, schema.RoleEntreprise: OwnOnly},
	},
	EntityCandidature: {
		ActionView:   {schema.RoleAdmin: AllAccess, schema.RoleEtudiant: OwnOnly, schema.RoleEntreprise: OwnOnly},
		ActionCreate: {schema.RoleAdmin: AllAccess, schema.RoleEtudiant: OwnOnly},
		ActionStatus: {schema.RoleEntreprise: OwnOnly},
		ActionEdit:   {schema.RoleAdmin: AllAccess},
		ActionDelete: {schema.RoleAdmin: AllAccess, schema.RoleEtudiant: OwnOnly},
	},
	EntityConvention: {
		ActionView:   {schema.RoleAdmin: AllAccess},
		ActionCreate: {schema.RoleAdmin: AllAccess},
		ActionEdit:   {schema.RoleAdmin: AllAccess},
		ActionDelete: {schema.RoleAdmin: AllAccess},
	},
	EntityRapport: {
		ActionView:   {schema.RoleAdmin: AllAccess, schema.RoleEtudiant: OwnOnly},
		ActionCreate: {schema.RoleAdmin: AllAccess, schema.RoleEtudiant: OwnOnly},
		ActionEdit:   {schema.RoleAdmin: AllAccess, schema.RoleEtudiant: OwnOnly},
		ActionDelete: {schema.RoleAdmin: AllAccess},
	},
}

func ActionScope(entity Entity, action Action, role string) accessScope {
	actions, ok := policyTable[entity]
	if !ok {
		return NoAccess
	}
	roles, ok := actions[action]
	if !ok {
		return NoAccess
	}
	return roles[role]
}

// RequireAction gates a route on the policy table. It only answers the role
// question; ownership is checked in the handler after the target row is
// loaded, so that a missing row yields NotFound before any Forbidden.
func RequireAction(entity Entity, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			scope := ActionScope(entity, action, user.Role)
			if scope == NoAccess {
				http.Error(w, fmt.Sprintf("role %v cannot perform %v on %v", user.Role, action, entity), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

func AdminOnly() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !user.IsAdmin() {
				http.Error(w, fmt.Sprintf("user %v is not an admin", user.Id), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

// ErrProfileIncomplete distinguishes "this account has no usable profile row"
// from a true ownership failure. Callers map it to a conflict response telling
// the user to complete their profile, not to Forbidden.
var ErrProfileIncomplete = errors.New("complete your profile to perform this action")

func EtudiantForUser(user schema.User, db *gorm.DB) (schema.Etudiant, error) {
	etudiant, err := schema.GetEtudiantByEmail(user.Email, db)
	if err != nil {
		if errors.Is(err, schema.ErrEtudiantNotFound) {
			return schema.Etudiant{}, ErrProfileIncomplete
		}
		return schema.Etudiant{}, err
	}
	return etudiant, nil
}

func EntrepriseForUser(user schema.User, db *gorm.DB) (schema.Entreprise, error) {
	entreprise, err := schema.GetEntrepriseByEmail(user.Email, db)
	if err != nil {
		if errors.Is(err, schema.ErrEntrepriseNotFound) {
			return schema.Entreprise{}, ErrProfileIncomplete
		}
		return schema.Entreprise{}, err
	}
	return entreprise, nil
}
