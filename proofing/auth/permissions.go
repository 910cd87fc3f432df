package auth

import (
	"errors"
	"fmt"
	"net/http"
	"suipic/proofing/schema"
	"suipic/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func AdminOnly(db *gorm.DB) func(http.Handler) http.Handler {
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

type albumPermission int // Private so that no other permissions can be defined

const (
	NoPermission         albumPermission = 0
	ViewPermission       albumPermission = 1
	ContributePermission albumPermission = 2
	OwnerPermission      albumPermission = 3
)

func albumPermissionToString(perm albumPermission) string {
	switch perm {
	case NoPermission:
		return "None"
	case ViewPermission:
		return "View"
	case ContributePermission:
		return "Contribute"
	case OwnerPermission:
		return "Owner"
	default:
		return "invalid permission"
	}
}

// GetAlbumPermissions resolves what a user may do with an album. The album
// lookup happens before any permission logic so that a missing album always
// surfaces as not-found rather than forbidden.
func GetAlbumPermissions(albumId uuid.UUID, user schema.User, db *gorm.DB) (albumPermission, error) {
	album, err := schema.GetAlbum(albumId, db)
	if err != nil {
		return NoPermission, err
	}

	if user.IsAdmin() {
		return OwnerPermission, nil
	}

	if album.OwnerId == user.Id {
		return OwnerPermission, nil
	}

	collaborator, err := schema.IsAlbumCollaborator(albumId, user.Id, db)
	if err != nil {
		return NoPermission, err
	}
	if collaborator {
		return ContributePermission, nil
	}

	client, err := schema.IsAlbumClient(albumId, user.Id, db)
	if err != nil {
		return NoPermission, err
	}
	if client {
		return ViewPermission, nil
	}

	return NoPermission, nil
}

// GetImagePermissions resolves the image first so a missing image surfaces as
// not-found, then defers to the album permissions. The image row is returned
// so callers do not need a second lookup.
func GetImagePermissions(imageId uuid.UUID, user schema.User, db *gorm.DB) (albumPermission, schema.Image, error) {
	image, err := schema.GetImage(imageId, db)
	if err != nil {
		return NoPermission, image, err
	}

	perm, err := GetAlbumPermissions(image.AlbumId, user, db)
	return perm, image, err
}

// CanModifyImage reports whether the user may edit or delete an image. The
// uploading photographer and the album owner may, collaborators may not touch
// each other's uploads.
func CanModifyImage(image schema.Image, album schema.Album, user schema.User) bool {
	if user.IsAdmin() {
		return true
	}
	return image.PhotographerId == user.Id || album.OwnerId == user.Id
}

func AlbumPermissionOnly(db *gorm.DB, minPermission albumPermission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			albumId, err := utils.URLParamUUID(r, "album_id")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			permission, err := GetAlbumPermissions(albumId, user, db)
			if err != nil {
				if errors.Is(err, schema.ErrAlbumNotFound) {
					http.Error(w, err.Error(), http.StatusNotFound)
					return
				}
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if permission >= minPermission {
				next.ServeHTTP(w, r)
				return
			}

			required, actual := albumPermissionToString(minPermission), albumPermissionToString(permission)
			http.Error(w, fmt.Sprintf("user %v does not have required permission for album %v (required=%v, actual=%v)", user.Id, albumId, required, actual), http.StatusForbidden)
		}
		return http.HandlerFunc(hfn)
	}
}
