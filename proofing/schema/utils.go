package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrAlbumNotFound   = errors.New("album not found")
	ErrImageNotFound   = errors.New("image not found")
	ErrCommentNotFound = errors.New("comment not found")
	ErrDbAccessFailed  = errors.New("db access failed")
)

func GetUser(userId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetUserByIdentityKey(identityKey string, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "identity_key = ?", identityKey)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user by identity key", "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetUserByEmail(email string, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "email = ?", email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user by email", "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetAlbum(albumId uuid.UUID, db *gorm.DB) (Album, error) {
	var album Album

	result := db.First(&album, "id = ?", albumId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return album, ErrAlbumNotFound
		}
		slog.Error("sql error in get album", "album_id", albumId, "error", result.Error)
		return album, ErrDbAccessFailed
	}

	return album, nil
}

func GetImage(imageId uuid.UUID, db *gorm.DB) (Image, error) {
	var image Image

	result := db.First(&image, "id = ?", imageId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return image, ErrImageNotFound
		}
		slog.Error("sql error in get image", "image_id", imageId, "error", result.Error)
		return image, ErrDbAccessFailed
	}

	return image, nil
}

func GetComment(commentId uuid.UUID, db *gorm.DB) (Comment, error) {
	var comment Comment

	result := db.First(&comment, "id = ?", commentId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return comment, ErrCommentNotFound
		}
		slog.Error("sql error in get comment", "comment_id", commentId, "error", result.Error)
		return comment, ErrDbAccessFailed
	}

	return comment, nil
}

func IsAlbumCollaborator(albumId, userId uuid.UUID, db *gorm.DB) (bool, error) {
	var count int64
	result := db.Model(&AlbumCollaborator{}).
		Where("album_id = ? AND photographer_id = ?", albumId, userId).
		Count(&count)
	if result.Error != nil {
		slog.Error("sql error in album collaborator check", "album_id", albumId, "user_id", userId, "error", result.Error)
		return false, ErrDbAccessFailed
	}
	return count > 0, nil
}

func IsAlbumClient(albumId, userId uuid.UUID, db *gorm.DB) (bool, error) {
	var count int64
	result := db.Model(&AlbumClient{}).
		Where("album_id = ? AND client_id = ?", albumId, userId).
		Count(&count)
	if result.Error != nil {
		slog.Error("sql error in album client check", "album_id", albumId, "user_id", userId, "error", result.Error)
		return false, ErrDbAccessFailed
	}
	return count > 0, nil
}
