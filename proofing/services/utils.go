package services

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"suipic/proofing/schema"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

func checkUserExists(txn *gorm.DB, userId uuid.UUID) (schema.User, error) {
	user, err := schema.GetUser(userId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			return user, CodedError(err, http.StatusNotFound)
		}
		return user, CodedError(err, http.StatusInternalServerError)
	}
	return user, nil
}

func checkAlbumExists(txn *gorm.DB, albumId uuid.UUID) (schema.Album, error) {
	album, err := schema.GetAlbum(albumId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrAlbumNotFound) {
			return album, CodedError(err, http.StatusNotFound)
		}
		return album, CodedError(err, http.StatusInternalServerError)
	}
	return album, nil
}

// parsePaging reads ?page and ?limit query parameters, defaulting to the
// first page of 20 entries.
func parsePaging(r *http.Request) (limit, offset int) {
	limit = 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}

	page := 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}

	return limit, (page - 1) * limit
}

type userInfo struct {
	Id        uuid.UUID   `json:"id"`
	Email     string      `json:"email"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Role      schema.Role `json:"role"`
	CreatedAt time.Time   `json:"createdAt"`
}

func convertToUserInfo(user *schema.User) userInfo {
	return userInfo{
		Id:        user.Id,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
	}
}

// deleteAlbumRecords removes an album and every dependent row inside the
// given transaction, returning the storage keys of the deleted images so the
// caller can clean up objects after the transaction commits.
func deleteAlbumRecords(txn *gorm.DB, albumId uuid.UUID) ([]string, error) {
	var images []schema.Image
	result := txn.Select("id", "storage_key").Find(&images, "album_id = ?", albumId)
	if result.Error != nil {
		slog.Error("sql error listing album images for delete", "album_id", albumId, "error", result.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	keys := make([]string, 0, len(images))
	imageIds := make([]uuid.UUID, 0, len(images))
	for _, image := range images {
		keys = append(keys, image.StorageKey)
		imageIds = append(imageIds, image.Id)
	}

	if len(imageIds) > 0 {
		if err := deleteImageRecords(txn, imageIds); err != nil {
			return nil, err
		}
	}

	steps := []*gorm.DB{
		txn.Where("album_id = ?", albumId).Delete(&schema.AlbumCollaborator{}),
		txn.Where("album_id = ?", albumId).Delete(&schema.AlbumClient{}),
		txn.Delete(&schema.Album{Id: albumId}),
	}
	for _, step := range steps {
		if step.Error != nil {
			slog.Error("sql error deleting album records", "album_id", albumId, "error", step.Error)
			return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
	}

	return keys, nil
}

// deleteImageRecords removes images and their feedback rows inside the given
// transaction.
func deleteImageRecords(txn *gorm.DB, imageIds []uuid.UUID) error {
	steps := []*gorm.DB{
		txn.Where("image_id IN ?", imageIds).Delete(&schema.Rating{}),
		txn.Where("image_id IN ?", imageIds).Delete(&schema.Flag{}),
		txn.Where("image_id IN ?", imageIds).Delete(&schema.Comment{}),
		txn.Where("id IN ?", imageIds).Delete(&schema.Image{}),
	}
	for _, step := range steps {
		if step.Error != nil {
			slog.Error("sql error deleting image records", "error", step.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
	}
	return nil
}
