package services

import (
	"log"
	"net/http"
	"os"
	"suipic/proofing/auth"
	"suipic/proofing/media"
	"suipic/proofing/storage"
	"suipic/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

// Platform wires the proofing services behind a single router.
type Platform struct {
	user  UserService
	album AlbumService
	image ImageService

	db *gorm.DB
}

func NewPlatform(db *gorm.DB, store storage.Gateway, pipeline *media.Pipeline, userAuth auth.IdentityProvider) Platform {
	return Platform{
		user: UserService{db: db, store: store, userAuth: userAuth},
		album: AlbumService{
			db:       db,
			store:    store,
			pipeline: pipeline,
			userAuth: userAuth,
		},
		image: ImageService{db: db, store: store, userAuth: userAuth},
		db:    db,
	}
}

func (p *Platform) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/auth", p.user.AuthRoutes())
	r.Mount("/users", p.user.Routes())
	r.Mount("/albums", p.album.Routes())
	r.Mount("/images", p.image.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w, "ok")
	})

	return r
}
