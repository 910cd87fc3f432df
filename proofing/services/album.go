package services

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"suipic/proofing/auth"
	"suipic/proofing/feedback"
	"suipic/proofing/media"
	"suipic/proofing/schema"
	"suipic/proofing/storage"
	"suipic/utils"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AlbumService struct {
	db       *gorm.DB
	store    storage.Gateway
	pipeline *media.Pipeline
	userAuth auth.IdentityProvider
}

func (s *AlbumService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Route("/{album_id}", func(r chi.Router) {
		r.With(auth.AlbumPermissionOnly(s.db, auth.ViewPermission)).Get("/", s.Info)

		r.Group(func(r chi.Router) {
			r.Use(auth.AlbumPermissionOnly(s.db, auth.OwnerPermission))

			r.Patch("/", s.Update)
			r.Delete("/", s.Delete)

			r.Post("/collaborators", s.AddCollaborator)
			r.Delete("/collaborators/{photographer_id}", s.RemoveCollaborator)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.AlbumPermissionOnly(s.db, auth.ContributePermission))

			r.Post("/clients", s.AddClient)
			r.Delete("/clients/{client_id}", s.RemoveClient)

			r.Get("/summary", s.Summary)

			r.Post("/images", s.UploadImage)
		})
	})

	return r
}

type albumInfo struct {
	Id          uuid.UUID          `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	DisplayMode schema.DisplayMode `json:"displayMode"`
	OwnerId     uuid.UUID          `json:"ownerId"`
	ImageCount  int64              `json:"imageCount"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

func convertToAlbumInfo(album *schema.Album, imageCount int64) albumInfo {
	return albumInfo{
		Id:          album.Id,
		Name:        album.Name,
		Description: album.Description,
		DisplayMode: album.DisplayMode,
		OwnerId:     album.OwnerId,
		ImageCount:  imageCount,
		CreatedAt:   album.CreatedAt,
		UpdatedAt:   album.UpdatedAt,
	}
}

func (s *AlbumService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	limit, offset := parsePaging(r)

	query := s.db.Model(&schema.Album{})
	if !user.IsAdmin() {
		query = query.Where(
			"owner_id = ? OR id IN (?) OR id IN (?)",
			user.Id,
			s.db.Model(&schema.AlbumCollaborator{}).Select("album_id").Where("photographer_id = ?", user.Id),
			s.db.Model(&schema.AlbumClient{}).Select("album_id").Where("client_id = ?", user.Id),
		)
	}

	var albums []schema.Album
	result := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&albums)
	if result.Error != nil {
		slog.Error("sql error listing albums", "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error listing albums: %v", schema.ErrDbAccessFailed))
		return
	}

	counts, err := s.imageCounts(albums)
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), err.Error())
		return
	}

	infos := make([]albumInfo, 0, len(albums))
	for i := range albums {
		infos = append(infos, convertToAlbumInfo(&albums[i], counts[albums[i].Id]))
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *AlbumService) imageCounts(albums []schema.Album) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(albums))
	if len(albums) == 0 {
		return counts, nil
	}

	ids := make([]uuid.UUID, 0, len(albums))
	for _, album := range albums {
		ids = append(ids, album.Id)
	}

	var rows []struct {
		AlbumId uuid.UUID
		Total   int64
	}
	result := s.db.Model(&schema.Image{}).
		Select("album_id, count(*) as total").
		Where("album_id IN ?", ids).
		Group("album_id").
		Scan(&rows)
	if result.Error != nil {
		slog.Error("sql error counting album images", "error", result.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	for _, row := range rows {
		counts[row.AlbumId] = row.Total
	}
	return counts, nil
}

type createAlbumRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	DisplayMode schema.DisplayMode `json:"displayMode"`
}

func (s *AlbumService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if user.Role == schema.RoleClient {
		utils.WriteError(w, http.StatusForbidden, "clients cannot create albums")
		return
	}

	var params createAlbumRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		utils.WriteError(w, http.StatusBadRequest, "album name is required")
		return
	}
	if params.DisplayMode == "" {
		params.DisplayMode = schema.DisplayGrid
	}
	if !params.DisplayMode.Valid() {
		utils.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid display mode '%v'", params.DisplayMode))
		return
	}

	album := schema.Album{
		Id:          uuid.New(),
		Name:        params.Name,
		Description: params.Description,
		DisplayMode: params.DisplayMode,
		OwnerId:     user.Id,
	}

	result := s.db.Create(&album)
	if result.Error != nil {
		slog.Error("sql error creating album", "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error creating album: %v", schema.ErrDbAccessFailed))
		return
	}

	slog.Info("created album", "album_id", album.Id, "owner_id", user.Id)

	utils.WriteCreated(w, convertToAlbumInfo(&album, 0))
}

type albumDetail struct {
	albumInfo
	Collaborators []userInfo `json:"collaborators"`
	Clients       []userInfo `json:"clients"`
}

func (s *AlbumService) Info(w http.ResponseWriter, r *http.Request) {
	albumId, err := utils.URLParamUUID(r, "album_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var album schema.Album
	result := s.db.Preload("Collaborators.Photographer").Preload("Clients.Client").First(&album, "id = ?", albumId)
	if result.Error != nil {
		slog.Error("sql error loading album", "album_id", albumId, "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error loading album: %v", schema.ErrDbAccessFailed))
		return
	}

	counts, err := s.imageCounts([]schema.Album{album})
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), err.Error())
		return
	}

	detail := albumDetail{
		albumInfo:     convertToAlbumInfo(&album, counts[album.Id]),
		Collaborators: make([]userInfo, 0, len(album.Collaborators)),
		Clients:       make([]userInfo, 0, len(album.Clients)),
	}
	for _, c := range album.Collaborators {
		if c.Photographer != nil {
			detail.Collaborators = append(detail.Collaborators, convertToUserInfo(c.Photographer))
		}
	}
	for _, c := range album.Clients {
		if c.Client != nil {
			detail.Clients = append(detail.Clients, convertToUserInfo(c.Client))
		}
	}

	utils.WriteJsonResponse(w, detail)
}

type updateAlbumRequest struct {
	Name        *string             `json:"name"`
	Description *string             `json:"description"`
	DisplayMode *schema.DisplayMode `json:"displayMode"`
}

func (s *AlbumService) Update(w http.ResponseWriter, r *http.Request) {
	albumId, err := utils.URLParamUUID(r, "album_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var params updateAlbumRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		album, err := checkAlbumExists(txn, albumId)
		if err != nil {
			return err
		}

		if params.Name != nil {
			if *params.Name == "" {
				return CodedError(errors.New("album name cannot be empty"), http.StatusBadRequest)
			}
			album.Name = *params.Name
		}
		if params.Description != nil {
			album.Description = *params.Description
		}
		if params.DisplayMode != nil {
			if !params.DisplayMode.Valid() {
				return CodedError(fmt.Errorf("invalid display mode '%v'", *params.DisplayMode), http.StatusBadRequest)
			}
			album.DisplayMode = *params.DisplayMode
		}

		result := txn.Save(&album)
		if result.Error != nil {
			slog.Error("sql error updating album", "album_id", albumId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteError(w, GetResponseCode(err), fmt.Sprintf("error updating album: %v", err))
		return
	}

	utils.WriteSuccess(w, "album updated")
}

func (s *AlbumService) Delete(w http.ResponseWriter, r *http.Request) {
	albumId, err := utils.URLParamUUID(r, "album_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var orphanedKeys []string

	err = s.db.Transaction(func(txn *gorm.DB) error {
		keys, err := deleteAlbumRecords(txn, albumId)
		if err != nil {
			return err
		}
		orphanedKeys = keys
		return nil
	})

	if err != nil {
		utils.WriteError(w, GetResponseCode(err), fmt.Sprintf("error deleting album %v: %v", albumId, err))
		return
	}

	deleteStorageObjects(r.Context(), s.store, orphanedKeys)

	slog.Info("deleted album", "album_id", albumId, "images", len(orphanedKeys))

	utils.WriteSuccess(w, "album deleted")
}

type addCollaboratorRequest struct {
	PhotographerId uuid.UUID `json:"photographerId"`
}

func (s *AlbumService) AddCollaborator(w http.ResponseWriter, r *http.Request) {
	albumId, err := utils.URLParamUUID(r, "album_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var params addCollaboratorRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		target, err := checkUserExists(txn, params.PhotographerId)
		if err != nil {
			return err
		}
		if target.Role != schema.RolePhotographer {
			return CodedError(fmt.Errorf("user %v is not a photographer", target.Id), http.StatusBadRequest)
		}

		album, err := checkAlbumExists(txn, albumId)
		if err != nil {
			return err
		}
		if album.OwnerId == target.Id {
			return CodedError(errors.New("album owner cannot be added as a collaborator"), http.StatusBadRequest)
		}

		var existing schema.AlbumCollaborator
		result := txn.Limit(1).Find(&existing, "album_id = ? AND photographer_id = ?", albumId, target.Id)
		if result.Error != nil {
			slog.Error("sql error checking for existing collaborator", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(errors.New("user is already a collaborator on this album"), http.StatusConflict)
		}

		result = txn.Create(&schema.AlbumCollaborator{AlbumId: albumId, PhotographerId: target.Id})
		if result.Error != nil {
			slog.Error("sql error adding collaborator", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteError(w, GetResponseCode(err), fmt.Sprintf("error adding collaborator: %v", err))
		return
	}

	utils.WriteSuccess(w, "collaborator added")
}

func (s *AlbumService) RemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	albumId, err := utils.URLParamUUID(r, "album_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	photographerId, err := utils.URLParamUUID(r, "photographer_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.db.Where("album_id = ? AND photographer_id = ?", albumId, photographerId).Delete(&schema.AlbumCollaborator{})
	if result.Error != nil {
		slog.Error("sql error removing collaborator", "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error removing collaborator: %v", schema.ErrDbAccessFailed))
		return
	}

	utils.WriteSuccess(w, "collaborator removed")
}

type addClientRequest struct {
	ClientId uuid.UUID `json:"clientId"`
}

func (s *AlbumService) AddClient(w http.ResponseWriter, r *http.Request) {
	albumId, err := utils.URLParamUUID(r, "album_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var params addClientRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		target, err := checkUserExists(txn, params.ClientId)
		if err != nil {
			return err
		}
		if target.Role != schema.RoleClient {
			return CodedError(fmt.Errorf("user %v is not a client", target.Id), http.StatusBadRequest)
		}

		var existing schema.AlbumClient
		result := txn.Limit(1).Find(&existing, "album_id = ? AND client_id = ?", albumId, target.Id)
		if result.Error != nil {
			slog.Error("sql error checking for existing album client", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(errors.New("user is already a client on this album"), http.StatusConflict)
		}

		result = txn.Create(&schema.AlbumClient{AlbumId: albumId, ClientId: target.Id})
		if result.Error != nil {
			slog.Error("sql error adding album client", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteError(w, GetResponseCode(err), fmt.Sprintf("error adding client: %v", err))
		return
	}

	utils.WriteSuccess(w, "client added")
}

func (s *AlbumService) RemoveClient(w http.ResponseWriter, r *http.Request) {
	albumId, err := utils.URLParamUUID(r, "album_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	clientId, err := utils.URLParamUUID(r, "client_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.db.Where("album_id = ? AND client_id = ?", albumId, clientId).Delete(&schema.AlbumClient{})
	if result.Error != nil {
		slog.Error("sql error removing album client", "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error removing client: %v", schema.ErrDbAccessFailed))
		return
	}

	utils.WriteSuccess(w, "client removed")
}

type raterEntry struct {
	UserName string `json:"userName"`
	Rating   int    `json:"rating"`
}

type imageSummary struct {
	ImageId          uuid.UUID    `json:"imageId"`
	OriginalFilename string       `json:"originalFilename"`
	AverageRating    *float64     `json:"averageRating"`
	PickCount        int          `json:"pickCount"`
	RejectCount      int          `json:"rejectCount"`
	Ratings          []raterEntry `json:"ratings"`
	Picks            []string     `json:"picks"`
	Rejects          []string     `json:"rejects"`
	CommentCount     int          `json:"commentCount"`
}

type albumSummary struct {
	AlbumId uuid.UUID      `json:"albumId"`
	Images  []imageSummary `json:"images"`
}

// Summary is the review roll-up photographers use to see client feedback per
// image. Clients only ever have view access so the contribute gate keeps it
// internal.
func (s *AlbumService) Summary(w http.ResponseWriter, r *http.Request) {
	albumId, err := utils.URLParamUUID(r, "album_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var images []schema.Image
	result := s.db.Preload("Ratings.User").Preload("Flags.User").Preload("Comments").
		Where("album_id = ?", albumId).
		Order("created_at ASC").
		Find(&images)
	if result.Error != nil {
		slog.Error("sql error loading album images for summary", "album_id", albumId, "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error loading summary: %v", schema.ErrDbAccessFailed))
		return
	}

	summary := albumSummary{AlbumId: albumId, Images: make([]imageSummary, 0, len(images))}
	for _, image := range images {
		picks, rejects := feedback.CountFlags(image.Flags)

		entry := imageSummary{
			ImageId:          image.Id,
			OriginalFilename: image.OriginalFilename,
			AverageRating:    feedback.AverageRating(image.Ratings),
			PickCount:        picks,
			RejectCount:      rejects,
			Ratings:          make([]raterEntry, 0, len(image.Ratings)),
			Picks:            make([]string, 0),
			Rejects:          make([]string, 0),
			CommentCount:     len(image.Comments),
		}

		for _, rating := range image.Ratings {
			name := ""
			if rating.User != nil {
				name = rating.User.DisplayName()
			}
			entry.Ratings = append(entry.Ratings, raterEntry{UserName: name, Rating: rating.Rating})
		}

		for _, flag := range image.Flags {
			name := ""
			if flag.User != nil {
				name = flag.User.DisplayName()
			}
			switch flag.FlagType {
			case schema.FlagPick:
				entry.Picks = append(entry.Picks, name)
			case schema.FlagReject:
				entry.Rejects = append(entry.Rejects, name)
			case schema.FlagNone:
			}
		}

		summary.Images = append(summary.Images, entry)
	}

	utils.WriteJsonResponse(w, summary)
}

func (s *AlbumService) UploadImage(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	albumId, err := utils.URLParamUUID(r, "album_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.pipeline.MaxUploadBytes()+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, fmt.Sprintf("error reading uploaded file: %v", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, fmt.Sprintf("error reading uploaded file: %v", err))
		return
	}

	ingested, err := s.pipeline.Ingest(r.Context(), data, header.Header.Get("Content-Type"))
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, media.ErrUnsupportedContentType), errors.Is(err, media.ErrInvalidImage):
			code = http.StatusBadRequest
		case errors.Is(err, media.ErrPayloadTooLarge):
			code = http.StatusRequestEntityTooLarge
		}
		utils.WriteError(w, code, fmt.Sprintf("error ingesting image: %v", err))
		return
	}

	image := schema.Image{
		Id:               uuid.New(),
		AlbumId:          albumId,
		PhotographerId:   user.Id,
		StorageKey:       ingested.StorageKey,
		OriginalFilename: header.Filename,
		Caption:          r.FormValue("caption"),
		ExifData:         ingested.Metadata.Serialize(),
		Width:            ingested.Width,
		Height:           ingested.Height,
	}

	result := s.db.Create(&image)
	if result.Error != nil {
		slog.Error("sql error creating image record", "error", result.Error)
		// The object was already stored, remove it so it does not orphan.
		deleteStorageObjects(r.Context(), s.store, []string{ingested.StorageKey})
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error recording image: %v", schema.ErrDbAccessFailed))
		return
	}

	slog.Info("ingested image", "image_id", image.Id, "album_id", albumId, "photographer_id", user.Id)

	utils.WriteCreated(w, convertToImageInfo(&image))
}
