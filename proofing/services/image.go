package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"suipic/proofing/auth"
	"suipic/proofing/feedback"
	"suipic/proofing/schema"
	"suipic/proofing/storage"
	"suipic/utils"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// Detail responses embed a url that stays valid while the client views the
	// album, the file redirect is minted per request and kept short.
	detailUrlTtl   = time.Hour
	redirectUrlTtl = 5 * time.Minute
)

type ImageService struct {
	db       *gorm.DB
	store    storage.Gateway
	userAuth auth.IdentityProvider
}

func (s *ImageService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Route("/{image_id}", func(r chi.Router) {
		r.Get("/", s.Info)
		r.Patch("/", s.Update)
		r.Delete("/", s.Delete)

		r.Get("/file", s.File)

		r.Post("/rating", s.SetRating)
		r.Get("/rating", s.GetRating)
		r.Delete("/rating", s.DeleteRating)

		r.Post("/flag", s.SetFlag)
		r.Get("/flag", s.GetFlag)
		r.Delete("/flag", s.DeleteFlag)

		r.Post("/comments", s.AddComment)
		r.Get("/comments", s.ListComments)
		r.Delete("/comments/{comment_id}", s.DeleteComment)
	})

	return r
}

// imageWithAccess resolves the image from the url and verifies the caller may
// view it. Not-found is reported before forbidden.
func (s *ImageService) imageWithAccess(r *http.Request) (schema.Image, schema.User, error) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		return schema.Image{}, user, CodedError(err, http.StatusInternalServerError)
	}

	imageId, err := utils.URLParamUUID(r, "image_id")
	if err != nil {
		return schema.Image{}, user, CodedError(err, http.StatusBadRequest)
	}

	perm, image, err := auth.GetImagePermissions(imageId, user, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrImageNotFound) || errors.Is(err, schema.ErrAlbumNotFound) {
			return image, user, CodedError(err, http.StatusNotFound)
		}
		return image, user, CodedError(err, http.StatusInternalServerError)
	}

	if perm < auth.ViewPermission {
		return image, user, CodedError(fmt.Errorf("user %v does not have access to image %v", user.Id, imageId), http.StatusForbidden)
	}

	return image, user, nil
}

type imageInfo struct {
	Id               uuid.UUID `json:"id"`
	AlbumId          uuid.UUID `json:"albumId"`
	PhotographerId   uuid.UUID `json:"photographerId"`
	OriginalFilename string    `json:"originalFilename"`
	Caption          string    `json:"caption"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	CreatedAt        time.Time `json:"createdAt"`
}

func convertToImageInfo(image *schema.Image) imageInfo {
	return imageInfo{
		Id:               image.Id,
		AlbumId:          image.AlbumId,
		PhotographerId:   image.PhotographerId,
		OriginalFilename: image.OriginalFilename,
		Caption:          image.Caption,
		Width:            image.Width,
		Height:           image.Height,
		CreatedAt:        image.CreatedAt,
	}
}

type commentInfo struct {
	Id        uuid.UUID     `json:"id"`
	UserId    uuid.UUID     `json:"userId"`
	UserName  string        `json:"userName"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"createdAt"`
	Replies   []commentInfo `json:"replies,omitempty"`
}

func convertToCommentInfo(c *schema.Comment) commentInfo {
	name := ""
	if c.User != nil {
		name = c.User.DisplayName()
	}
	return commentInfo{
		Id:        c.Id,
		UserId:    c.UserId,
		UserName:  name,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
	}
}

func convertToCommentThreads(threads []feedback.Thread) []commentInfo {
	infos := make([]commentInfo, 0, len(threads))
	for i := range threads {
		info := convertToCommentInfo(&threads[i].Comment)
		for j := range threads[i].Replies {
			info.Replies = append(info.Replies, convertToCommentInfo(&threads[i].Replies[j]))
		}
		infos = append(infos, info)
	}
	return infos
}

type imageDetail struct {
	imageInfo
	Url           string           `json:"url"`
	AverageRating *float64         `json:"averageRating"`
	PickCount     int              `json:"pickCount"`
	RejectCount   int              `json:"rejectCount"`
	OwnRating     *int             `json:"ownRating"`
	OwnFlag       *schema.FlagType `json:"ownFlag"`
	Comments      []commentInfo    `json:"comments"`
}

func (s *ImageService) Info(w http.ResponseWriter, r *http.Request) {
	image, user, err := s.imageWithAccess(r)
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), err.Error())
		return
	}

	var loaded schema.Image
	result := s.db.Preload("Ratings").Preload("Flags").Preload("Comments.User").First(&loaded, "id = ?", image.Id)
	if result.Error != nil {
		slog.Error("sql error loading image detail", "image_id", image.Id, "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error loading image: %v", schema.ErrDbAccessFailed))
		return
	}

	url, err := s.store.SignedURL(r.Context(), loaded.StorageKey, detailUrlTtl)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error signing image url: %v", err))
		return
	}

	picks, rejects := feedback.CountFlags(loaded.Flags)

	detail := imageDetail{
		imageInfo:     convertToImageInfo(&loaded),
		Url:           url,
		AverageRating: feedback.AverageRating(loaded.Ratings),
		PickCount:     picks,
		RejectCount:   rejects,
		Comments:      convertToCommentThreads(feedback.ThreadComments(loaded.Comments)),
	}

	for _, rating := range loaded.Ratings {
		if rating.UserId == user.Id {
			value := rating.Rating
			detail.OwnRating = &value
			break
		}
	}
	for _, flag := range loaded.Flags {
		if flag.UserId == user.Id && flag.FlagType != schema.FlagNone {
			value := flag.FlagType
			detail.OwnFlag = &value
			break
		}
	}

	utils.WriteJsonResponse(w, detail)
}

// checkModify verifies the caller may edit or delete the image. View access
// is resolved first so collaborators get forbidden rather than not-found.
func (s *ImageService) checkModify(r *http.Request) (schema.Image, error) {
	image, user, err := s.imageWithAccess(r)
	if err != nil {
		return image, err
	}

	album, err := schema.GetAlbum(image.AlbumId, s.db)
	if err != nil {
		return image, CodedError(err, http.StatusInternalServerError)
	}

	if !auth.CanModifyImage(image, album, user) {
		return image, CodedError(fmt.Errorf("user %v cannot modify image %v", user.Id, image.Id), http.StatusForbidden)
	}

	return image, nil
}

type updateImageRequest struct {
	Caption *string `json:"caption"`
}

func (s *ImageService) Update(w http.ResponseWriter, r *http.Request) {
	image, err := s.checkModify(r)
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), err.Error())
		return
	}

	var params updateImageRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Caption != nil {
		result := s.db.Model(&schema.Image{Id: image.Id}).Update("caption", *params.Caption)
		if result.Error != nil {
			slog.Error("sql error updating image caption", "image_id", image.Id, "error", result.Error)
			utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error updating image: %v", schema.ErrDbAccessFailed))
			return
		}
	}

	utils.WriteSuccess(w, "image updated")
}

func (s *ImageService) Delete(w http.ResponseWriter, r *http.Request) {
	image, err := s.checkModify(r)
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), err.Error())
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		return deleteImageRecords(txn, []uuid.UUID{image.Id})
	})
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), fmt.Sprintf("error deleting image %v: %v", image.Id, err))
		return
	}

	deleteStorageObjects(r.Context(), s.store, []string{image.StorageKey})

	slog.Info("deleted image", "image_id", image.Id)

	utils.WriteSuccess(w, "image deleted")
}

// File redirects to a short lived signed url for the image bytes.
func (s *ImageService) File(w http.ResponseWriter, r *http.Request) {
	image, _, err := s.imageWithAccess(r)
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), err.Error())
		return
	}

	url, err := s.store.SignedURL(r.Context(), image.StorageKey, redirectUrlTtl)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error signing image url: %v", err))
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.Redirect(w, r, url, http.StatusFound)
}

type setRatingRequest struct {
	Rating int `json:"rating"`
}

func (s *ImageService) SetRating(w http.ResponseWriter, r *http.Request) {
	image, user, err := s.imageWithAccess(r)
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), err.Error())
		return
	}

	var params setRatingRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Rating < 1 || params.Rating > 5 {
		utils.WriteError(w, http.StatusBadRequest, fmt.Sprintf("rating must be between 1 and 5, got %v", params.Rating))
		return
	}

	// Single upsert so concurrent submissions cannot race on a read-then-write.
	rating := schema.Rating{Id: uuid.New(), ImageId: image.Id, UserId: user.Id, Rating: params.Rating}
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "image_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"rating": params.Rating, "updated_at": time.Now().UTC()}),
	}).Create(&rating)
	if result.Error != nil {
		slog.Error("sql error upserting rating", "image_id", image.Id, "user_id", user.Id, "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error saving rating: %v", schema.ErrDbAccessFailed))
		return
	}

	utils.WriteSuccess(w, "rating saved")
}

type ownRatingResponse struct {
	Rating *int `json:"rating"`
}

func (s *ImageService) GetRating(w http.ResponseWriter, r *http.Request) {
	image, user, err := s.imageWithAccess(r)
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), err.Error())
		return
	}

	var rating schema.Rating
	result := s.db.Limit(1).Find(&rating, "image_id = ? AND user_id = ?", image.Id, user.Id)
	if result.Error != nil {
		slog.Error("sql error loading rating", "image_id", image.Id, "user_id", user.Id, "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error loading rating: %v", schema.ErrDbAccessFailed))
		return
	}

	res := ownRatingResponse{}
	if result.RowsAffected != 0 {
		res.Rating = &rating.Rating
	}
	utils.WriteJsonResponse(w, res)
}

func (s *ImageService) DeleteRating(w http.ResponseWriter, r *http.Request) {
	image, user, err := s.imageWithAccess(r)
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), err.Error())
		return
	}

	result := s.db.Where("image_id = ? AND user_id = ?", image.Id, user.Id).Delete(&schema.Rating{})
	if result.Error != nil {
		slog.Error("sql error deleting rating", "image_id", image.Id, "user_id", user.Id, "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error deleting rating: %v", schema.ErrDbAccessFailed))
		return
	}

	utils.WriteSuccess(w, "rating removed")
}

type setFlagRequest struct {
	Flag schema.FlagType `json:"flag"`
}

func (s *ImageService) SetFlag(w http.ResponseWriter, r *http.Request) {
	image, user, err := s.imageWithAccess(r)
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), err.Error())
		return
	}

	var params setFlagRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if !params.Flag.Valid() {
		utils.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid flag '%v'", params.Flag))
		return
	}

	flag := schema.Flag{Id: uuid.New(), ImageId: image.Id, UserId: user.Id, FlagType: params.Flag}
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "image_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"flag_type": params.Flag, "updated_at": time.Now().UTC()}),
	}).Create(&flag)
	if result.Error != nil {
		slog.Error("sql error upserting flag", "image_id", image.Id, "user_id", user.Id, "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error saving flag: %v", schema.ErrDbAccessFailed))
		return
	}

	utils.WriteSuccess(w, "flag saved")
}

type ownFlagResponse struct {
	Flag *schema.FlagType `json:"flag"`
}

func (s *ImageService) GetFlag(w http.ResponseWriter, r *http.Request) {
	image, user, err := s.imageWithAccess(r)
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), err.Error())
		return
	}

	var flag schema.Flag
	result := s.db.Limit(1).Find(&flag, "image_id = ? AND user_id = ?", image.Id, user.Id)
	if result.Error != nil {
		slog.Error("sql error loading flag", "image_id", image.Id, "user_id", user.Id, "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error loading flag: %v", schema.ErrDbAccessFailed))
		return
	}

	res := ownFlagResponse{}
	if result.RowsAffected != 0 && flag.FlagType != schema.FlagNone {
		res.Flag = &flag.FlagType
	}
	utils.WriteJsonResponse(w, res)
}

// DeleteFlag clears the caller's selection by writing a "none" tombstone so
// the clearing survives a concurrent re-flag.
func (s *ImageService) DeleteFlag(w http.ResponseWriter, r *http.Request) {
	image, user, err := s.imageWithAccess(r)
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), err.Error())
		return
	}

	flag := schema.Flag{Id: uuid.New(), ImageId: image.Id, UserId: user.Id, FlagType: schema.FlagNone}
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "image_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"flag_type": schema.FlagNone, "updated_at": time.Now().UTC()}),
	}).Create(&flag)
	if result.Error != nil {
		slog.Error("sql error clearing flag", "image_id", image.Id, "user_id", user.Id, "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error clearing flag: %v", schema.ErrDbAccessFailed))
		return
	}

	utils.WriteSuccess(w, "flag removed")
}

type addCommentRequest struct {
	Content  string     `json:"content"`
	ParentId *uuid.UUID `json:"parentId"`
}

func (s *ImageService) AddComment(w http.ResponseWriter, r *http.Request) {
	image, user, err := s.imageWithAccess(r)
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), err.Error())
		return
	}

	var params addCommentRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Content == "" {
		utils.WriteError(w, http.StatusBadRequest, "comment content is required")
		return
	}

	comment := schema.Comment{
		Id:       uuid.New(),
		ImageId:  image.Id,
		UserId:   user.Id,
		ParentId: params.ParentId,
		Content:  params.Content,
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if params.ParentId != nil {
			parent, err := schema.GetComment(*params.ParentId, txn)
			if err != nil {
				if errors.Is(err, schema.ErrCommentNotFound) {
					return CodedError(err, http.StatusBadRequest)
				}
				return CodedError(err, http.StatusInternalServerError)
			}
			if parent.ImageId != image.Id {
				return CodedError(errors.New("parent comment belongs to a different image"), http.StatusBadRequest)
			}
			if parent.ParentId != nil {
				return CodedError(errors.New("replies cannot be nested further"), http.StatusBadRequest)
			}
		}

		result := txn.Create(&comment)
		if result.Error != nil {
			slog.Error("sql error creating comment", "image_id", image.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteError(w, GetResponseCode(err), fmt.Sprintf("error adding comment: %v", err))
		return
	}

	comment.User = &user
	utils.WriteCreated(w, convertToCommentInfo(&comment))
}

func (s *ImageService) ListComments(w http.ResponseWriter, r *http.Request) {
	image, _, err := s.imageWithAccess(r)
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), err.Error())
		return
	}

	var comments []schema.Comment
	result := s.db.Preload("User").Where("image_id = ?", image.Id).Find(&comments)
	if result.Error != nil {
		slog.Error("sql error listing comments", "image_id", image.Id, "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error listing comments: %v", schema.ErrDbAccessFailed))
		return
	}

	utils.WriteJsonResponse(w, convertToCommentThreads(feedback.ThreadComments(comments)))
}

func (s *ImageService) DeleteComment(w http.ResponseWriter, r *http.Request) {
	image, user, err := s.imageWithAccess(r)
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), err.Error())
		return
	}

	commentId, err := utils.URLParamUUID(r, "comment_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		comment, err := schema.GetComment(commentId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrCommentNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if comment.ImageId != image.Id {
			return CodedError(schema.ErrCommentNotFound, http.StatusNotFound)
		}

		if comment.UserId != user.Id {
			return CodedError(errors.New("only the comment author can delete a comment"), http.StatusForbidden)
		}

		steps := []*gorm.DB{
			txn.Where("parent_id = ?", commentId).Delete(&schema.Comment{}),
			txn.Delete(&schema.Comment{Id: commentId}),
		}
		for _, step := range steps {
			if step.Error != nil {
				slog.Error("sql error deleting comment", "comment_id", commentId, "error", step.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		return nil
	})

	if err != nil {
		utils.WriteError(w, GetResponseCode(err), fmt.Sprintf("error deleting comment: %v", err))
		return
	}

	utils.WriteSuccess(w, "comment deleted")
}
