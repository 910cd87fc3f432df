package tests

import (
	"context"
	"errors"
	"strings"
	"testing"

	"suipic/proofing/schema"
	"suipic/proofing/storage"
)

func TestUploadDownscalesLargeImages(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUserWithRole("bigshooter", "photographer")
	if err != nil {
		t.Fatal(err)
	}
	album, err := owner.createAlbum("big shots")
	if err != nil {
		t.Fatal(err)
	}

	image, err := owner.uploadImage(album.Id, "panorama.png", "image/png", "sunset", pngBytes(t, 3000, 1500))
	if err != nil {
		t.Fatal(err)
	}

	if image.Width != 2048 || image.Height != 1024 {
		t.Fatalf("expected 2048x1024 after downscale, got %dx%d", image.Width, image.Height)
	}
	if image.OriginalFilename != "panorama.png" || image.Caption != "sunset" {
		t.Fatalf("unexpected image info %+v", image)
	}

	albums, err := owner.listAlbums()
	if err != nil {
		t.Fatal(err)
	}
	if len(albums) != 1 || albums[0].ImageCount != 1 {
		t.Fatalf("expected image count 1, got %+v", albums)
	}
}

func TestUploadKeepsSmallImages(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUserWithRole("smallshooter", "photographer")
	if err != nil {
		t.Fatal(err)
	}
	album, err := owner.createAlbum("small shots")
	if err != nil {
		t.Fatal(err)
	}

	image, err := owner.uploadImage(album.Id, "thumb.png", "image/png", "", pngBytes(t, 300, 200))
	if err != nil {
		t.Fatal(err)
	}

	// Images below the limit are never upscaled.
	if image.Width != 300 || image.Height != 200 {
		t.Fatalf("expected original 300x200, got %dx%d", image.Width, image.Height)
	}
}

func TestUploadRejectsBadContent(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUserWithRole("strictshooter", "photographer")
	if err != nil {
		t.Fatal(err)
	}
	album, err := owner.createAlbum("strict")
	if err != nil {
		t.Fatal(err)
	}

	_, err = owner.uploadImage(album.Id, "notes.txt", "text/plain", "", []byte("not an image"))
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for unsupported type, got %v", err)
	}

	_, err = owner.uploadImage(album.Id, "broken.png", "image/png", "", []byte("garbage bytes"))
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for undecodable image, got %v", err)
	}
}

func TestImageDeleteRemovesStoredObject(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUserWithRole("cleaner", "photographer")
	if err != nil {
		t.Fatal(err)
	}
	album, err := owner.createAlbum("cleanup")
	if err != nil {
		t.Fatal(err)
	}

	image, err := owner.uploadImage(album.Id, "gone.png", "image/png", "", pngBytes(t, 50, 50))
	if err != nil {
		t.Fatal(err)
	}

	var record schema.Image
	if err := env.db.First(&record, "id = ?", image.Id).Error; err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(record.StorageKey, "images/") || !strings.HasSuffix(record.StorageKey, ".jpg") {
		t.Fatalf("unexpected storage key %v", record.StorageKey)
	}

	data, err := env.store.Get(context.Background(), record.StorageKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("expected stored object bytes")
	}

	if err := owner.deleteImage(image.Id); err != nil {
		t.Fatal(err)
	}

	if _, err := owner.imageDetail(image.Id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := env.store.Get(context.Background(), record.StorageKey); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("expected object removed, got %v", err)
	}
}

func TestAlbumDeleteRemovesImages(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUserWithRole("albumcleaner", "photographer")
	if err != nil {
		t.Fatal(err)
	}
	album, err := owner.createAlbum("short lived")
	if err != nil {
		t.Fatal(err)
	}

	image, err := owner.uploadImage(album.Id, "brief.png", "image/png", "", pngBytes(t, 50, 50))
	if err != nil {
		t.Fatal(err)
	}

	var record schema.Image
	if err := env.db.First(&record, "id = ?", image.Id).Error; err != nil {
		t.Fatal(err)
	}

	if err := owner.deleteAlbum(album.Id); err != nil {
		t.Fatal(err)
	}

	if _, err := owner.imageDetail(image.Id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after album delete, got %v", err)
	}
	if _, err := env.store.Get(context.Background(), record.StorageKey); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("expected object removed, got %v", err)
	}
}

func TestImageFileRedirect(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUserWithRole("linker", "photographer")
	if err != nil {
		t.Fatal(err)
	}
	album, err := owner.createAlbum("links")
	if err != nil {
		t.Fatal(err)
	}

	image, err := owner.uploadImage(album.Id, "linked.png", "image/png", "", pngBytes(t, 30, 30))
	if err != nil {
		t.Fatal(err)
	}

	location, err := owner.imageFile(image.Id)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(location, "/files?key=") || !strings.Contains(location, "token=") {
		t.Fatalf("unexpected redirect location %v", location)
	}

	detail, err := owner.imageDetail(image.Id)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(detail.Url, "/files?key=") {
		t.Fatalf("unexpected detail url %v", detail.Url)
	}
}

func TestImageDetailReflectsExif(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUserWithRole("exifer", "photographer")
	if err != nil {
		t.Fatal(err)
	}
	album, err := owner.createAlbum("exif")
	if err != nil {
		t.Fatal(err)
	}

	image, err := owner.uploadImage(album.Id, "meta.png", "image/png", "", pngBytes(t, 30, 20))
	if err != nil {
		t.Fatal(err)
	}

	var record schema.Image
	if err := env.db.First(&record, "id = ?", image.Id).Error; err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(record.ExifData, `"format":"png"`) {
		t.Fatalf("unexpected metadata %v", record.ExifData)
	}
}
