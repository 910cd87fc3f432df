package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"suipic/proofing/auth"
	"suipic/proofing/schema"
	"suipic/proofing/storage"
	"suipic/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserService struct {
	db       *gorm.DB
	store    storage.Gateway
	userAuth auth.IdentityProvider
}

// AuthRoutes are the unauthenticated identity endpoints mounted at /auth.
func (s *UserService) AuthRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/sync", s.Sync)

	if s.userAuth.AllowDirectSignup() {
		r.Post("/signup", s.Signup)
	}
	r.Get("/login", s.Login)

	return r
}

func (s *UserService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Route("/{user_id}", func(r chi.Router) {
		r.Get("/", s.Info)
		r.Patch("/", s.Update)

		r.With(auth.AdminOnly(s.db)).Delete("/", s.Delete)
	})

	return r
}

type syncRequest struct {
	IdentityKey string      `json:"identityKey"`
	Email       string      `json:"email"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	Role        schema.Role `json:"role"`
}

// Sync creates or updates the platform record for an external identity. New
// identities may only self-provision as clients, existing platform-created
// accounts are claimed by email so invited users can log in.
func (s *UserService) Sync(w http.ResponseWriter, r *http.Request) {
	var params syncRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.IdentityKey == "" || params.Email == "" {
		utils.WriteError(w, http.StatusBadRequest, "identityKey and email are required")
		return
	}

	if params.Role == "" {
		params.Role = schema.RoleClient
	}
	if !params.Role.Valid() {
		utils.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid role '%v'", params.Role))
		return
	}

	var user schema.User
	created := false

	err := s.db.Transaction(func(txn *gorm.DB) error {
		result := txn.Limit(1).Find(&user, "identity_key = ?", params.IdentityKey)
		if result.Error != nil {
			slog.Error("sql error looking up identity", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if result.RowsAffected == 1 {
			var emailOwner schema.User
			emailResult := txn.Limit(1).Find(&emailOwner, "email = ? AND id != ?", params.Email, user.Id)
			if emailResult.Error != nil {
				slog.Error("sql error checking for existing email", "error", emailResult.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
			if emailResult.RowsAffected != 0 {
				return CodedError(auth.ErrEmailAlreadyInUse, http.StatusConflict)
			}

			user.Email = params.Email
			user.FirstName = params.FirstName
			user.LastName = params.LastName

			saveResult := txn.Save(&user)
			if saveResult.Error != nil {
				slog.Error("sql error updating synced user", "user_id", user.Id, "error", saveResult.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
			return nil
		}

		// An account created on the platform before its first login carries a
		// placeholder identity key, claim it by email.
		result = txn.Limit(1).Find(&user, "email = ?", params.Email)
		if result.Error != nil {
			slog.Error("sql error looking up user by email", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if result.RowsAffected == 1 {
			if !strings.HasPrefix(user.IdentityKey, "pending-") {
				return CodedError(auth.ErrEmailAlreadyInUse, http.StatusConflict)
			}

			user.IdentityKey = params.IdentityKey
			user.FirstName = params.FirstName
			user.LastName = params.LastName

			saveResult := txn.Save(&user)
			if saveResult.Error != nil {
				slog.Error("sql error claiming pending account", "user_id", user.Id, "error", saveResult.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
			return nil
		}

		if params.Role != schema.RoleClient {
			return CodedError(fmt.Errorf("accounts with role '%v' must be provisioned by an administrator", params.Role), http.StatusForbidden)
		}

		user = schema.User{
			Id:          uuid.New(),
			IdentityKey: params.IdentityKey,
			Email:       params.Email,
			FirstName:   params.FirstName,
			LastName:    params.LastName,
			Role:        schema.RoleClient,
		}

		createResult := txn.Create(&user)
		if createResult.Error != nil {
			slog.Error("sql error creating synced user", "error", createResult.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		created = true

		return nil
	})

	if err != nil {
		utils.WriteError(w, GetResponseCode(err), fmt.Sprintf("error syncing identity: %v", err))
		return
	}

	if created {
		utils.WriteCreated(w, convertToUserInfo(&user))
	} else {
		utils.WriteJsonResponse(w, convertToUserInfo(&user))
	}
}

type signupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Signup is only available with the basic identity provider. Self-registered
// accounts are always clients.
func (s *UserService) Signup(w http.ResponseWriter, r *http.Request) {
	var params signupRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Email == "" || params.Password == "" {
		utils.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user := schema.User{
		Id:        uuid.New(),
		Email:     params.Email,
		FirstName: params.FirstName,
		LastName:  params.LastName,
		Role:      schema.RoleClient,
	}
	user.IdentityKey = "local-" + user.Id.String()

	err := s.createUserRecord(&user)
	if err != nil {
		utils.WriteError(w, GetResponseCode(err), fmt.Sprintf("error creating user: %v", err))
		return
	}

	if err := s.userAuth.SetPassword(user, params.Password); err != nil {
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error storing credentials: %v", err))
		return
	}

	utils.WriteCreated(w, convertToUserInfo(&user))
}

type loginResponse struct {
	UserId      uuid.UUID `json:"userId"`
	AccessToken string    `json:"accessToken"`
}

func (s *UserService) Login(w http.ResponseWriter, r *http.Request) {
	email, password, ok := r.BasicAuth()
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
		return
	}

	login, err := s.userAuth.LoginWithEmail(email, password)
	if err != nil {
		responseCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, auth.ErrUserNotFoundWithEmail):
			responseCode = http.StatusNotFound
		case errors.Is(err, auth.ErrInvalidCredentials):
			responseCode = http.StatusUnauthorized
		}
		utils.WriteError(w, responseCode, fmt.Sprintf("login failed: %v", err))
		return
	}

	utils.WriteJsonResponse(w, loginResponse{UserId: login.UserId, AccessToken: login.AccessToken})
}

func (s *UserService) createUserRecord(user *schema.User) error {
	return s.db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "email = ?", user.Email)
		if result.Error != nil {
			slog.Error("sql error checking for existing email", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(auth.ErrEmailAlreadyInUse, http.StatusConflict)
		}

		result = txn.Create(user)
		if result.Error != nil {
			slog.Error("sql error creating new user entry", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})
}

func (s *UserService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	limit, offset := parsePaging(r)

	query := s.db.Model(&schema.User{})
	switch user.Role {
	case schema.RoleAdmin:
		if role := schema.Role(r.URL.Query().Get("role")); role != "" {
			if !role.Valid() {
				utils.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid role filter '%v'", role))
				return
			}
			query = query.Where("role = ?", role)
		}
	case schema.RolePhotographer:
		query = query.Where("created_by_id = ?", user.Id)
	case schema.RoleClient:
		utils.WriteError(w, http.StatusForbidden, "clients cannot list users")
		return
	}

	var users []schema.User
	result := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&users)
	if result.Error != nil {
		slog.Error("sql error listing users", "error", result.Error)
		utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error listing users: %v", schema.ErrDbAccessFailed))
		return
	}

	infos := make([]userInfo, 0, len(users))
	for _, u := range users {
		infos = append(infos, convertToUserInfo(&u))
	}
	utils.WriteJsonResponse(w, infos)
}

type createUserRequest struct {
	Email     string      `json:"email"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Role      schema.Role `json:"role"`
	Password  string      `json:"password,omitempty"`
}

func (s *UserService) Create(w http.ResponseWriter, r *http.Request) {
	creator, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var params createUserRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Email == "" {
		utils.WriteError(w, http.StatusBadRequest, "email is required")
		return
	}
	if !params.Role.Valid() {
		utils.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid role '%v'", params.Role))
		return
	}

	if !creator.Role.CanCreate(params.Role) {
		utils.WriteError(w, http.StatusForbidden, fmt.Sprintf("role '%v' cannot create accounts with role '%v'", creator.Role, params.Role))
		return
	}

	user := schema.User{
		Id:          uuid.New(),
		Email:       params.Email,
		FirstName:   params.FirstName,
		LastName:    params.LastName,
		Role:        params.Role,
		CreatedById: &creator.Id,
	}
	user.IdentityKey = "pending-" + user.Id.String()

	if err := s.createUserRecord(&user); err != nil {
		utils.WriteError(w, GetResponseCode(err), fmt.Sprintf("error creating user: %v", err))
		return
	}

	if params.Password != "" {
		if err := s.userAuth.SetPassword(user, params.Password); err != nil {
			utils.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("error storing credentials: %v", err))
			return
		}
	}

	slog.Info("created user", "user_id", user.Id, "role", user.Role, "created_by", creator.Id)

	utils.WriteCreated(w, convertToUserInfo(&user))
}

func (s *UserService) Info(w http.ResponseWriter, r *http.Request) {
	requester, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := schema.GetUser(userId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			utils.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	createdByRequester := user.CreatedById != nil && *user.CreatedById == requester.Id
	if requester.Id != user.Id && !requester.IsAdmin() && !createdByRequester {
		utils.WriteError(w, http.StatusForbidden, "cannot view this user")
		return
	}

	utils.WriteJsonResponse(w, convertToUserInfo(&user))
}

type updateUserRequest struct {
	Email     *string      `json:"email"`
	FirstName *string      `json:"firstName"`
	LastName  *string      `json:"lastName"`
	Role      *schema.Role `json:"role"`
}

func (s *UserService) Update(w http.ResponseWriter, r *http.Request) {
	requester, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var params updateUserRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		user, err := checkUserExists(txn, userId)
		if err != nil {
			return err
		}

		if requester.Id != user.Id && !requester.IsAdmin() {
			return CodedError(errors.New("cannot update this user"), http.StatusForbidden)
		}

		if params.Role != nil {
			if !requester.IsAdmin() {
				return CodedError(errors.New("only admins can change roles"), http.StatusForbidden)
			}
			if !params.Role.Valid() {
				return CodedError(fmt.Errorf("invalid role '%v'", *params.Role), http.StatusBadRequest)
			}
			user.Role = *params.Role
		}

		if params.Email != nil {
			var existingUser schema.User
			result := txn.Limit(1).Find(&existingUser, "email = ? AND id != ?", *params.Email, userId)
			if result.Error != nil {
				slog.Error("sql error checking for existing email", "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
			if result.RowsAffected != 0 {
				return CodedError(auth.ErrEmailAlreadyInUse, http.StatusConflict)
			}
			user.Email = *params.Email
		}
		if params.FirstName != nil {
			user.FirstName = *params.FirstName
		}
		if params.LastName != nil {
			user.LastName = *params.LastName
		}

		result := txn.Save(&user)
		if result.Error != nil {
			slog.Error("sql error updating user", "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		utils.WriteError(w, GetResponseCode(err), fmt.Sprintf("error updating user: %v", err))
		return
	}

	utils.WriteSuccess(w, "user updated")
}

func (s *UserService) Delete(w http.ResponseWriter, r *http.Request) {
	requester, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if userId == requester.Id {
		utils.WriteError(w, http.StatusBadRequest, "admins cannot delete their own account")
		return
	}

	var orphanedKeys []string

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if _, err := checkUserExists(txn, userId); err != nil {
			return err
		}

		var albumIds []uuid.UUID
		result := txn.Model(&schema.Album{}).Where("owner_id = ?", userId).Pluck("id", &albumIds)
		if result.Error != nil {
			slog.Error("sql error listing owned albums for delete", "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		for _, albumId := range albumIds {
			keys, err := deleteAlbumRecords(txn, albumId)
			if err != nil {
				return err
			}
			orphanedKeys = append(orphanedKeys, keys...)
		}

		// Images the user uploaded into albums they do not own.
		var authored []schema.Image
		result = txn.Select("id", "storage_key").Find(&authored, "photographer_id = ?", userId)
		if result.Error != nil {
			slog.Error("sql error listing authored images for delete", "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if len(authored) > 0 {
			imageIds := make([]uuid.UUID, 0, len(authored))
			for _, image := range authored {
				orphanedKeys = append(orphanedKeys, image.StorageKey)
				imageIds = append(imageIds, image.Id)
			}
			if err := deleteImageRecords(txn, imageIds); err != nil {
				return err
			}
		}

		// Replies from other users under this user's comments would otherwise
		// be orphaned.
		var commentIds []uuid.UUID
		result = txn.Model(&schema.Comment{}).Where("user_id = ?", userId).Pluck("id", &commentIds)
		if result.Error != nil {
			slog.Error("sql error listing comments for delete", "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if len(commentIds) > 0 {
			if result := txn.Where("parent_id IN ?", commentIds).Delete(&schema.Comment{}); result.Error != nil {
				slog.Error("sql error deleting comment replies", "user_id", userId, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		steps := []*gorm.DB{
			txn.Where("photographer_id = ?", userId).Delete(&schema.AlbumCollaborator{}),
			txn.Where("client_id = ?", userId).Delete(&schema.AlbumClient{}),
			txn.Where("user_id = ?", userId).Delete(&schema.Rating{}),
			txn.Where("user_id = ?", userId).Delete(&schema.Flag{}),
			txn.Where("user_id = ?", userId).Delete(&schema.Comment{}),
			txn.Delete(&schema.User{Id: userId}),
		}
		for _, step := range steps {
			if step.Error != nil {
				slog.Error("sql error deleting user records", "user_id", userId, "error", step.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		return nil
	})

	if err != nil {
		utils.WriteError(w, GetResponseCode(err), fmt.Sprintf("error deleting user %v: %v", userId, err))
		return
	}

	deleteStorageObjects(r.Context(), s.store, orphanedKeys)

	utils.WriteSuccess(w, "user deleted")
}

// deleteStorageObjects removes objects after their records are gone. Failures
// are logged but do not fail the request, the records are already deleted.
func deleteStorageObjects(ctx context.Context, store storage.Gateway, keys []string) {
	for _, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			slog.Warn("failed to delete stored object, leaving orphan", "key", key, "error", err)
		}
	}
}
