package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"gestion_stages/stages/services"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
	login    *loginInfo
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
		headers:  nil,
		json:     nil,
		body:     nil,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Login(email, password string) *httpTestRequest {
	r.login = &loginInfo{Email: email, Password: password}
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) Multipart(form *multipartForm) *httpTestRequest {
	r.body = form.buffer
	return r.Header("Content-Type", form.writer.FormDataContentType())
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrInvalidRequest = errors.New("unprocessable request")
)

func statusError(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrInvalidRequest
	}
	return nil
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	res, body, err := r.send()
	if err != nil {
		return err
	}

	if res.StatusCode != http.StatusOK {
		if err := statusError(res.StatusCode); err != nil {
			return fmt.Errorf("%w: %v request to endpoint %v returned status %d, content '%v'", err, r.method, r.endpoint, res.StatusCode, body.String())
		}
		return fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, body.String())
	}

	if result != nil {
		err := json.NewDecoder(body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

// DoRaw returns the raw response body, used for file download endpoints.
func (r *httpTestRequest) DoRaw() ([]byte, error) {
	res, body, err := r.send()
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		if err := statusError(res.StatusCode); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, body.String())
	}

	return body.Bytes(), nil
}

func (r *httpTestRequest) send() (*http.Response, *bytes.Buffer, error) {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return nil, nil, fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	if r.headers != nil {
		for k, v := range r.headers {
			req.Header.Add(k, v)
		}
	}

	if r.login != nil {
		req.SetBasicAuth(r.login.Email, r.login.Password)
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	return res, w.Body, nil
}

type multipartForm struct {
	buffer *bytes.Buffer
	writer *multipart.Writer
}

func newMultipartForm() *multipartForm {
	buffer := new(bytes.Buffer)
	return &multipartForm{buffer: buffer, writer: multipart.NewWriter(buffer)}
}

func (f *multipartForm) Field(key, value string) *multipartForm {
	if err := f.writer.WriteField(key, value); err != nil {
		panic(err)
	}
	return f
}

func (f *multipartForm) File(field, filename string, content []byte) *multipartForm {
	part, err := f.writer.CreateFormFile(field, filename)
	if err != nil {
		panic(err)
	}
	if _, err := part.Write(content); err != nil {
		panic(err)
	}
	return f
}

func (f *multipartForm) Close() *multipartForm {
	if err := f.writer.Close(); err != nil {
		panic(err)
	}
	return f
}

type client struct {
	api       chi.Router
	authToken string
	userId    string
}

func (c *client) Get(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "GET", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Post(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "POST", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "DELETE", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

type loginInfo struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *client) signup(username, email, password, role string) (loginInfo, error) {
	body := map[string]string{
		"email": email, "username": username, "password": password, "role": role,
	}

	err := c.Post("/user/signup").Json(body).Do(nil)
	if err != nil {
		return loginInfo{}, err
	}

	return loginInfo{Email: email, Password: password}, nil
}

func (c *client) login(login loginInfo) error {
	var res map[string]string
	err := c.Get("/user/login").Login(login.Email, login.Password).Do(&res)
	if err != nil {
		return err
	}

	c.authToken = res["access_token"]
	c.userId = res["user_id"]

	return nil
}

func (c *client) addUser(username, email, password, role string) (loginInfo, error) {
	body := map[string]string{
		"email": email, "username": username, "password": password, "role": role,
	}

	err := c.Post("/user/create").Json(body).Do(nil)
	if err != nil {
		return loginInfo{}, err
	}

	return loginInfo{Email: email, Password: password}, nil
}

func (c *client) deleteUser(userId string) error {
	return c.Delete(fmt.Sprintf("/user/%v", userId)).Do(nil)
}

func (c *client) listUsers() ([]services.UserInfo, error) {
	var res []services.UserInfo
	err := c.Get("/user/list").Do(&res)
	return res, err
}

func (c *client) userInfo() (services.UserInfo, error) {
	var res services.UserInfo
	err := c.Get("/user/info").Do(&res)
	return res, err
}

func (c *client) listEtudiants(query string) ([]services.EtudiantInfo, error) {
	var res []services.EtudiantInfo
	err := c.Get("/etudiant/list" + query).Do(&res)
	return res, err
}

func (c *client) getEtudiant(etudiantId string) (services.EtudiantInfo, error) {
	var res services.EtudiantInfo
	err := c.Get(fmt.Sprintf("/etudiant/%v", etudiantId)).Do(&res)
	return res, err
}

func (c *client) createEtudiant(body map[string]string) (services.EtudiantInfo, error) {
	var res services.EtudiantInfo
	err := c.Post("/etudiant/create").Json(body).Do(&res)
	return res, err
}

func (c *client) updateEtudiant(etudiantId string, body map[string]string) error {
	return c.Post(fmt.Sprintf("/etudiant/%v", etudiantId)).Json(body).Do(nil)
}

func (c *client) deleteEtudiant(etudiantId string) error {
	return c.Delete(fmt.Sprintf("/etudiant/%v", etudiantId)).Do(nil)
}

// myEtudiant returns the caller's own profile, relying on the own-rows
// filtering of the list endpoint for student callers.
func (c *client) myEtudiant() (services.EtudiantInfo, error) {
	etudiants, err := c.listEtudiants("")
	if err != nil {
		return services.EtudiantInfo{}, err
	}
	if len(etudiants) != 1 {
		return services.EtudiantInfo{}, fmt.Errorf("expected a single profile, got %d", len(etudiants))
	}
	return etudiants[0], nil
}

func (c *client) listEntreprises(query string) (services.EntrepriseListResponse, error) {
	var res services.EntrepriseListResponse
	err := c.Get("/entreprise/list" + query).Do(&res)
	return res, err
}

func (c *client) getEntreprise(entrepriseId string) (services.EntrepriseInfo, error) {
	var res services.EntrepriseInfo
	err := c.Get(fmt.Sprintf("/entreprise/%v", entrepriseId)).Do(&res)
	return res, err
}

func (c *client) createEntreprise(body map[string]string) (services.EntrepriseInfo, error) {
	var res services.EntrepriseInfo
	err := c.Post("/entreprise/create").Json(body).Do(&res)
	return res, err
}

func (c *client) updateEntreprise(entrepriseId string, body map[string]string) error {
	return c.Post(fmt.Sprintf("/entreprise/%v", entrepriseId)).Json(body).Do(nil)
}

func (c *client) deleteEntreprise(entrepriseId string) error {
	return c.Delete(fmt.Sprintf("/entreprise/%v", entrepriseId)).Do(nil)
}

func (c *client) myEntreprise() (services.EntrepriseInfo, error) {
	entreprises, err := c.listEntreprises("")
	if err != nil {
		return services.EntrepriseInfo{}, err
	}
	if len(entreprises.Entreprises) != 1 {
		return services.EntrepriseInfo{}, fmt.Errorf("expected a single profile, got %d", len(entreprises.Entreprises))
	}
	return entreprises.Entreprises[0], nil
}

func (c *client) createOffre(titre, description string, dureeMois int) (services.OffreInfo, error) {
	body := map[string]interface{}{
		"titre": titre, "description": description, "duree_mois": dureeMois,
	}

	var res services.OffreInfo
	err := c.Post("/offre/create").Json(body).Do(&res)
	return res, err
}

func (c *client) listOffres(query string) (services.OffreListResponse, error) {
	var res services.OffreListResponse
	err := c.Get("/offre/list" + query).Do(&res)
	return res, err
}

func (c *client) getOffre(offreId string) (services.OffreInfo, error) {
	var res services.OffreInfo
	err := c.Get(fmt.Sprintf("/offre/%v", offreId)).Do(&res)
	return res, err
}

func (c *client) updateOffre(offreId string, body map[string]interface{}) error {
	return c.Post(fmt.Sprintf("/offre/%v", offreId)).Json(body).Do(nil)
}

func (c *client) deleteOffre(offreId string) error {
	return c.Delete(fmt.Sprintf("/offre/%v", offreId)).Do(nil)
}

func (c *client) apply(offreId, filename string, cv []byte) (services.CandidatureInfo, error) {
	form := newMultipartForm().Field("offre_id", offreId).File("cv", filename, cv).Close()

	var res services.CandidatureInfo
	err := c.Post("/candidature/create").Multipart(form).Do(&res)
	return res, err
}

func (c *client) applyFor(offreId, etudiantId, filename string, cv []byte) (services.CandidatureInfo, error) {
	form := newMultipartForm().
		Field("offre_id", offreId).
		Field("etudiant_id", etudiantId).
		File("cv", filename, cv).
		Close()

	var res services.CandidatureInfo
	err := c.Post("/candidature/create").Multipart(form).Do(&res)
	return res, err
}

func (c *client) listCandidatures(query string) ([]services.CandidatureInfo, error) {
	var res []services.CandidatureInfo
	err := c.Get("/candidature/list" + query).Do(&res)
	return res, err
}

func (c *client) getCandidature(candidatureId string) (services.CandidatureInfo, error) {
	var res services.CandidatureInfo
	err := c.Get(fmt.Sprintf("/candidature/%v", candidatureId)).Do(&res)
	return res, err
}

func (c *client) downloadCv(candidatureId string) ([]byte, error) {
	return c.Get(fmt.Sprintf("/candidature/%v/cv", candidatureId)).DoRaw()
}

func (c *client) acceptCandidature(candidatureId string) error {
	return c.Post(fmt.Sprintf("/candidature/%v/accept", candidatureId)).Do(nil)
}

func (c *client) rejectCandidature(candidatureId string) error {
	return c.Post(fmt.Sprintf("/candidature/%v/reject", candidatureId)).Do(nil)
}

func (c *client) updateCandidature(candidatureId, statut string, version int, cv []byte) error {
	form := newMultipartForm().Field("statut", statut).Field("version", strconv.Itoa(version))
	if cv != nil {
		form.File("cv", "cv.pdf", cv)
	}
	form.Close()

	return c.Post(fmt.Sprintf("/candidature/%v", candidatureId)).Multipart(form).Do(nil)
}

func (c *client) deleteCandidature(candidatureId string) error {
	return c.Delete(fmt.Sprintf("/candidature/%v", candidatureId)).Do(nil)
}

func (c *client) createConvention(candidatureId string, debut, fin time.Time) (services.ConventionInfo, error) {
	body := map[string]interface{}{
		"candidature_id": candidatureId, "date_debut": debut, "date_fin": fin,
	}

	var res services.ConventionInfo
	err := c.Post("/convention/create").Json(body).Do(&res)
	return res, err
}

func (c *client) listConventions(query string) ([]services.ConventionInfo, error) {
	var res []services.ConventionInfo
	err := c.Get("/convention/list" + query).Do(&res)
	return res, err
}

func (c *client) eligibleCandidatures() ([]services.CandidatureInfo, error) {
	var res []services.CandidatureInfo
	err := c.Get("/convention/eligible-candidatures").Do(&res)
	return res, err
}

func (c *client) getConvention(conventionId string) (services.ConventionInfo, error) {
	var res services.ConventionInfo
	err := c.Get(fmt.Sprintf("/convention/%v", conventionId)).Do(&res)
	return res, err
}

func (c *client) updateConvention(conventionId, statut string, version int) error {
	body := map[string]interface{}{"statut": statut, "version": version}
	return c.Post(fmt.Sprintf("/convention/%v", conventionId)).Json(body).Do(nil)
}

func (c *client) uploadConventionDocument(conventionId, filename string, document []byte) error {
	form := newMultipartForm().File("document", filename, document).Close()
	return c.Post(fmt.Sprintf("/convention/%v/document", conventionId)).Multipart(form).Do(nil)
}

func (c *client) downloadConventionDocument(conventionId string) ([]byte, error) {
	return c.Get(fmt.Sprintf("/convention/%v/document", conventionId)).DoRaw()
}

func (c *client) deleteConvention(conventionId string) error {
	return c.Delete(fmt.Sprintf("/convention/%v", conventionId)).Do(nil)
}

func (c *client) createRapport(conventionId, titre, filename string, fichier []byte) (services.RapportInfo, error) {
	form := newMultipartForm().
		Field("convention_id", conventionId).
		Field("titre", titre).
		File("fichier", filename, fichier).
		Close()

	var res services.RapportInfo
	err := c.Post("/rapport/create").Multipart(form).Do(&res)
	return res, err
}

func (c *client) listRapports() ([]services.RapportInfo, error) {
	var res []services.RapportInfo
	err := c.Get("/rapport/list").Do(&res)
	return res, err
}

func (c *client) eligibleConventions() ([]services.ConventionInfo, error) {
	var res []services.ConventionInfo
	err := c.Get("/rapport/conventions").Do(&res)
	return res, err
}

func (c *client) getRapport(rapportId string) (services.RapportInfo, error) {
	var res services.RapportInfo
	err := c.Get(fmt.Sprintf("/rapport/%v", rapportId)).Do(&res)
	return res, err
}

func (c *client) downloadRapport(rapportId string) ([]byte, error) {
	return c.Get(fmt.Sprintf("/rapport/%v/fichier", rapportId)).DoRaw()
}

func (c *client) updateRapport(rapportId, titre string, fichier []byte) error {
	form := newMultipartForm().Field("titre", titre)
	if fichier != nil {
		form.File("fichier", "rapport.pdf", fichier)
	}
	form.Close()

	return c.Post(fmt.Sprintf("/rapport/%v", rapportId)).Multipart(form).Do(nil)
}

func (c *client) deleteRapport(rapportId string) error {
	return c.Delete(fmt.Sprintf("/rapport/%v", rapportId)).Do(nil)
}
