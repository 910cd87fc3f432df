package tests

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"suipic/proofing/auth"
	"suipic/proofing/media"
	"suipic/proofing/schema"
	"suipic/proofing/services"
	"suipic/proofing/storage"
	"testing"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	platform services.Platform
	api      chi.Router
	store    storage.Gateway
	db       *gorm.DB
}

const (
	adminEmail    = "admin123@mail.com"
	adminPassword = "admin_password123"
)

func setupTestEnv(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}

	err = db.AutoMigrate(
		&schema.User{}, &schema.Album{}, &schema.AlbumCollaborator{},
		&schema.AlbumClient{}, &schema.Image{}, &schema.Rating{},
		&schema.Flag{}, &schema.Comment{},
	)
	if err != nil {
		t.Fatal(err)
	}

	secret := []byte("290zcv02ai249")

	store := storage.NewDiskGateway(filepath.Join(t.TempDir(), "objects"), "http://localhost:8000", secret)

	userAuth, err := auth.NewBasicIdentityProvider(
		db,
		auth.NewAuditLogger(new(bytes.Buffer)),
		auth.BasicProviderArgs{
			Secret:        secret,
			AdminEmail:    adminEmail,
			AdminPassword: adminPassword,
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	pipeline := media.NewPipeline(store, media.DefaultConfig())

	platform := services.NewPlatform(db, store, pipeline, userAuth)

	return &testEnv{platform: platform, api: platform.Routes(), store: store, db: db}
}

func (t *testEnv) newClient() client {
	return client{api: t.api}
}

// newUser signs up and logs in a new client account.
func (t *testEnv) newUser(name string) (client, error) {
	c := t.newClient()
	login, err := c.signup(name+"@mail.com", name+"_password")
	if err != nil {
		return client{}, err
	}

	err = c.login(login)
	if err != nil {
		return client{}, err
	}

	return c, nil
}

func (t *testEnv) adminClient() (client, error) {
	c := t.newClient()
	err := c.login(loginInfo{Email: adminEmail, Password: adminPassword})
	return c, err
}

// newUserWithRole has the admin provision an account with the given role and
// logs it in.
func (t *testEnv) newUserWithRole(name, role string) (client, error) {
	admin, err := t.adminClient()
	if err != nil {
		return client{}, err
	}

	_, err = admin.createUser(name+"@mail.com", role, name+"_password")
	if err != nil {
		return client{}, err
	}

	c := t.newClient()
	err = c.login(loginInfo{Email: name + "@mail.com", Password: name + "_password"})
	return c, err
}

func pngBytes(t *testing.T, width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
