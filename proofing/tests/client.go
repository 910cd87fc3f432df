package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"

	"github.com/go-chi/chi/v5"
)

var (
	ErrBadRequest      = errors.New("bad request")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrPayloadTooLarge = errors.New("payload too large")
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

func (r *httpTestRequest) Body(body io.Reader) *httpTestRequest {
	r.body = body
	return r
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func errForStatus(status int) error {
	switch status {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	}
	return nil
}

// Raw executes the request without interpreting the response.
func (r *httpTestRequest) Raw() (*http.Response, string, error) {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return nil, "", fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	for k, v := range r.headers {
		req.Header.Add(k, v)
	}

	if r.login != nil {
		req.SetBasicAuth(r.login.Email, r.login.Password)
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	return w.Result(), w.Body.String(), nil
}

// response body will be parsed into result, passing nil indicates that no result is needed.
func (r *httpTestRequest) Do(result interface{}) error {
	res, content, err := r.Raw()
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		if err := errForStatus(res.StatusCode); err != nil {
			return err
		}
		return fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, content)
	}

	if result != nil {
		var body envelope
		if err := json.Unmarshal([]byte(content), &body); err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
		if err := json.Unmarshal(body.Data, result); err != nil {
			return fmt.Errorf("error parsing %v response data from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
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

func (c *client) Patch(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "PATCH", endpoint)
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

type UserInfo struct {
	Id        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

type AlbumInfo struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	DisplayMode string `json:"displayMode"`
	OwnerId     string `json:"ownerId"`
	ImageCount  int64  `json:"imageCount"`
}

type AlbumDetail struct {
	AlbumInfo
	Collaborators []UserInfo `json:"collaborators"`
	Clients       []UserInfo `json:"clients"`
}

type ImageInfo struct {
	Id               string `json:"id"`
	AlbumId          string `json:"albumId"`
	PhotographerId   string `json:"photographerId"`
	OriginalFilename string `json:"originalFilename"`
	Caption          string `json:"caption"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
}

type CommentInfo struct {
	Id       string        `json:"id"`
	UserId   string        `json:"userId"`
	UserName string        `json:"userName"`
	Content  string        `json:"content"`
	Replies  []CommentInfo `json:"replies"`
}

type ImageDetail struct {
	ImageInfo
	Url           string        `json:"url"`
	AverageRating *float64      `json:"averageRating"`
	PickCount     int           `json:"pickCount"`
	RejectCount   int           `json:"rejectCount"`
	OwnRating     *int          `json:"ownRating"`
	OwnFlag       *string       `json:"ownFlag"`
	Comments      []CommentInfo `json:"comments"`
}

type RaterEntry struct {
	UserName string `json:"userName"`
	Rating   int    `json:"rating"`
}

type ImageSummary struct {
	ImageId          string       `json:"imageId"`
	OriginalFilename string       `json:"originalFilename"`
	AverageRating    *float64     `json:"averageRating"`
	PickCount        int          `json:"pickCount"`
	RejectCount      int          `json:"rejectCount"`
	Ratings          []RaterEntry `json:"ratings"`
	Picks            []string     `json:"picks"`
	Rejects          []string     `json:"rejects"`
	CommentCount     int          `json:"commentCount"`
}

type AlbumSummary struct {
	AlbumId string         `json:"albumId"`
	Images  []ImageSummary `json:"images"`
}

func (c *client) signup(email, password string) (loginInfo, error) {
	body := map[string]string{"email": email, "password": password}

	err := c.Post("/auth/signup").Json(body).Do(nil)
	if err != nil {
		return loginInfo{}, err
	}

	return loginInfo{Email: email, Password: password}, nil
}

func (c *client) sync(identityKey, email, role string) (UserInfo, error) {
	body := map[string]string{"identityKey": identityKey, "email": email}
	if role != "" {
		body["role"] = role
	}

	var res UserInfo
	err := c.Post("/auth/sync").Json(body).Do(&res)
	return res, err
}

func (c *client) login(login loginInfo) error {
	var res map[string]string
	err := c.Get("/auth/login").Login(login.Email, login.Password).Do(&res)
	if err != nil {
		return err
	}

	c.authToken = res["accessToken"]
	c.userId = res["userId"]

	return nil
}

func (c *client) createUser(email, role, password string) (UserInfo, error) {
	body := map[string]string{"email": email, "role": role, "password": password}

	var res UserInfo
	err := c.Post("/users").Json(body).Do(&res)
	return res, err
}

func (c *client) listUsers(query string) ([]UserInfo, error) {
	var res []UserInfo
	err := c.Get("/users" + query).Do(&res)
	return res, err
}

func (c *client) userInfo(userId string) (UserInfo, error) {
	var res UserInfo
	err := c.Get(fmt.Sprintf("/users/%v", userId)).Do(&res)
	return res, err
}

func (c *client) updateUser(userId string, updates map[string]string) error {
	return c.Patch(fmt.Sprintf("/users/%v", userId)).Json(updates).Do(nil)
}

func (c *client) deleteUser(userId string) error {
	return c.Delete(fmt.Sprintf("/users/%v", userId)).Do(nil)
}

func (c *client) createAlbum(name string) (AlbumInfo, error) {
	body := map[string]string{"name": name}

	var res AlbumInfo
	err := c.Post("/albums").Json(body).Do(&res)
	return res, err
}

func (c *client) listAlbums() ([]AlbumInfo, error) {
	var res []AlbumInfo
	err := c.Get("/albums").Do(&res)
	return res, err
}

func (c *client) albumInfo(albumId string) (AlbumDetail, error) {
	var res AlbumDetail
	err := c.Get(fmt.Sprintf("/albums/%v", albumId)).Do(&res)
	return res, err
}

func (c *client) updateAlbum(albumId string, updates map[string]string) error {
	return c.Patch(fmt.Sprintf("/albums/%v", albumId)).Json(updates).Do(nil)
}

func (c *client) deleteAlbum(albumId string) error {
	return c.Delete(fmt.Sprintf("/albums/%v", albumId)).Do(nil)
}

func (c *client) addCollaborator(albumId, photographerId string) error {
	body := map[string]string{"photographerId": photographerId}
	return c.Post(fmt.Sprintf("/albums/%v/collaborators", albumId)).Json(body).Do(nil)
}

func (c *client) removeCollaborator(albumId, photographerId string) error {
	return c.Delete(fmt.Sprintf("/albums/%v/collaborators/%v", albumId, photographerId)).Do(nil)
}

func (c *client) addClient(albumId, clientId string) error {
	body := map[string]string{"clientId": clientId}
	return c.Post(fmt.Sprintf("/albums/%v/clients", albumId)).Json(body).Do(nil)
}

func (c *client) removeClient(albumId, clientId string) error {
	return c.Delete(fmt.Sprintf("/albums/%v/clients/%v", albumId, clientId)).Do(nil)
}

func (c *client) albumSummary(albumId string) (AlbumSummary, error) {
	var res AlbumSummary
	err := c.Get(fmt.Sprintf("/albums/%v/summary", albumId)).Do(&res)
	return res, err
}

func (c *client) uploadImage(albumId, filename, contentType, caption string, data []byte) (ImageInfo, error) {
	body := new(bytes.Buffer)
	form := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%v"`, filename))
	header.Set("Content-Type", contentType)

	part, err := form.CreatePart(header)
	if err != nil {
		return ImageInfo{}, err
	}
	if _, err := part.Write(data); err != nil {
		return ImageInfo{}, err
	}

	if caption != "" {
		if err := form.WriteField("caption", caption); err != nil {
			return ImageInfo{}, err
		}
	}

	if err := form.Close(); err != nil {
		return ImageInfo{}, err
	}

	var res ImageInfo
	err = c.Post(fmt.Sprintf("/albums/%v/images", albumId)).
		Header("Content-Type", form.FormDataContentType()).
		Body(body).
		Do(&res)
	return res, err
}

func (c *client) imageDetail(imageId string) (ImageDetail, error) {
	var res ImageDetail
	err := c.Get(fmt.Sprintf("/images/%v", imageId)).Do(&res)
	return res, err
}

func (c *client) updateCaption(imageId, caption string) error {
	body := map[string]string{"caption": caption}
	return c.Patch(fmt.Sprintf("/images/%v", imageId)).Json(body).Do(nil)
}

func (c *client) deleteImage(imageId string) error {
	return c.Delete(fmt.Sprintf("/images/%v", imageId)).Do(nil)
}

// imageFile returns the redirect location for the image bytes.
func (c *client) imageFile(imageId string) (string, error) {
	res, content, err := c.Get(fmt.Sprintf("/images/%v/file", imageId)).Raw()
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusFound {
		if err := errForStatus(res.StatusCode); err != nil {
			return "", err
		}
		return "", fmt.Errorf("file request returned status %d, content '%v'", res.StatusCode, content)
	}

	return res.Header.Get("Location"), nil
}

func (c *client) setRating(imageId string, rating int) error {
	body := map[string]int{"rating": rating}
	return c.Post(fmt.Sprintf("/images/%v/rating", imageId)).Json(body).Do(nil)
}

func (c *client) getRating(imageId string) (*int, error) {
	var res struct {
		Rating *int `json:"rating"`
	}
	err := c.Get(fmt.Sprintf("/images/%v/rating", imageId)).Do(&res)
	return res.Rating, err
}

func (c *client) deleteRating(imageId string) error {
	return c.Delete(fmt.Sprintf("/images/%v/rating", imageId)).Do(nil)
}

func (c *client) setFlag(imageId, flag string) error {
	body := map[string]string{"flag": flag}
	return c.Post(fmt.Sprintf("/images/%v/flag", imageId)).Json(body).Do(nil)
}

func (c *client) getFlag(imageId string) (*string, error) {
	var res struct {
		Flag *string `json:"flag"`
	}
	err := c.Get(fmt.Sprintf("/images/%v/flag", imageId)).Do(&res)
	return res.Flag, err
}

func (c *client) deleteFlag(imageId string) error {
	return c.Delete(fmt.Sprintf("/images/%v/flag", imageId)).Do(nil)
}

func (c *client) addComment(imageId, content string, parentId *string) (CommentInfo, error) {
	body := map[string]interface{}{"content": content}
	if parentId != nil {
		body["parentId"] = *parentId
	}

	var res CommentInfo
	err := c.Post(fmt.Sprintf("/images/%v/comments", imageId)).Json(body).Do(&res)
	return res, err
}

func (c *client) listComments(imageId string) ([]CommentInfo, error) {
	var res []CommentInfo
	err := c.Get(fmt.Sprintf("/images/%v/comments", imageId)).Do(&res)
	return res, err
}

func (c *client) deleteComment(imageId, commentId string) error {
	return c.Delete(fmt.Sprintf("/images/%v/comments/%v", imageId, commentId)).Do(nil)
}
