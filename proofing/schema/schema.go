package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role controls what a user may create and see. The set is closed, all
// permission logic switches exhaustively over it.
type Role string

const (
	RoleAdmin        Role = "admin"
	RolePhotographer Role = "photographer"
	RoleClient       Role = "client"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePhotographer, RoleClient:
		return true
	}
	return false
}

// CanCreate reports whether a user with role r may provision an account with
// the target role. Admins create anyone, photographers create only clients.
func (r Role) CanCreate(target Role) bool {
	switch r {
	case RoleAdmin:
		return true
	case RolePhotographer:
		return target == RoleClient
	case RoleClient:
		return false
	}
	return false
}

type FlagType string

const (
	FlagPick   FlagType = "pick"
	FlagReject FlagType = "reject"
	FlagNone   FlagType = "none"
)

func (f FlagType) Valid() bool {
	switch f {
	case FlagPick, FlagReject, FlagNone:
		return true
	}
	return false
}

type DisplayMode string

const (
	DisplayGrid      DisplayMode = "grid"
	DisplayFilmstrip DisplayMode = "filmstrip"
)

func (d DisplayMode) Valid() bool {
	switch d {
	case DisplayGrid, DisplayFilmstrip:
		return true
	}
	return false
}

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	// IdentityKey is the subject from the external identity provider. Local
	// accounts that have never logged in carry a "pending-" placeholder.
	IdentityKey string `gorm:"unique;size:255;not null"`
	Email       string `gorm:"unique;size:254;not null"`

	FirstName string `gorm:"size:100"`
	LastName  string `gorm:"size:100"`

	Role Role `gorm:"size:50;not null;default:'client'"`

	// Password is only populated by the basic identity provider.
	Password []byte

	CreatedById *uuid.UUID `gorm:"type:uuid"`
	CreatedBy   *User      `gorm:"foreignKey:CreatedById;constraint:OnDelete:SET NULL"`

	CreatedAt time.Time
	UpdatedAt time.Time

	OwnedAlbums []Album `gorm:"foreignKey:OwnerId;constraint:OnDelete:CASCADE"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

type Album struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name        string `gorm:"size:255;not null"`
	Description string

	DisplayMode DisplayMode `gorm:"size:50;not null;default:'grid'"`

	OwnerId uuid.UUID `gorm:"type:uuid;not null"`
	Owner   *User     `gorm:"foreignKey:OwnerId"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Collaborators []AlbumCollaborator `gorm:"constraint:OnDelete:CASCADE"`
	Clients       []AlbumClient       `gorm:"constraint:OnDelete:CASCADE"`
	Images        []Image             `gorm:"constraint:OnDelete:CASCADE"`
}

// AlbumCollaborator grants a photographer contribute access to another
// photographer's album.
type AlbumCollaborator struct {
	AlbumId        uuid.UUID `gorm:"type:uuid;primaryKey"`
	PhotographerId uuid.UUID `gorm:"type:uuid;primaryKey"`

	Album        *Album `gorm:"constraint:OnDelete:CASCADE"`
	Photographer *User  `gorm:"foreignKey:PhotographerId;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
}

// AlbumClient grants a client view and feedback access to an album.
type AlbumClient struct {
	AlbumId  uuid.UUID `gorm:"type:uuid;primaryKey"`
	ClientId uuid.UUID `gorm:"type:uuid;primaryKey"`

	Album  *Album `gorm:"constraint:OnDelete:CASCADE"`
	Client *User  `gorm:"foreignKey:ClientId;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
}

type Image struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	AlbumId uuid.UUID `gorm:"type:uuid;not null;index"`
	Album   *Album    `gorm:"constraint:OnDelete:CASCADE"`

	PhotographerId uuid.UUID `gorm:"type:uuid;not null"`
	Photographer   *User     `gorm:"foreignKey:PhotographerId"`

	StorageKey       string `gorm:"size:512;not null"`
	OriginalFilename string `gorm:"size:255;not null"`
	Caption          string

	// ExifData holds the extracted metadata serialized as json.
	ExifData string

	Width  int `gorm:"not null"`
	Height int `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Ratings  []Rating  `gorm:"constraint:OnDelete:CASCADE"`
	Flags    []Flag    `gorm:"constraint:OnDelete:CASCADE"`
	Comments []Comment `gorm:"constraint:OnDelete:CASCADE"`
}

type Rating struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ImageId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_ratings_image_user"`
	UserId  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_ratings_image_user"`
	User    *User     `gorm:"constraint:OnDelete:CASCADE"`

	Rating int `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Flag struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ImageId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_flags_image_user"`
	UserId  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_flags_image_user"`
	User    *User     `gorm:"constraint:OnDelete:CASCADE"`

	FlagType FlagType `gorm:"size:50;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Comment struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ImageId uuid.UUID `gorm:"type:uuid;not null;index"`

	UserId uuid.UUID `gorm:"type:uuid;not null"`
	User   *User     `gorm:"constraint:OnDelete:CASCADE"`

	// ParentId is nil for top level comments. Only one nesting level is
	// allowed, replies cannot have replies.
	ParentId *uuid.UUID `gorm:"type:uuid"`
	Replies  []Comment  `gorm:"foreignKey:ParentId;constraint:OnDelete:CASCADE"`

	Content string `gorm:"not null"`

	CreatedAt time.Time
}
