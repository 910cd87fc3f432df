package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"suipic/proofing/storage"
	"time"

	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"
)

var (
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrPayloadTooLarge        = errors.New("uploaded file exceeds maximum allowed size")
	ErrInvalidImage           = errors.New("unable to decode image")
)

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

var (
	imagesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proofing_images_ingested_total",
		Help: "Number of images successfully ingested.",
	})
	ingestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proofing_image_ingest_failures_total",
		Help: "Number of failed image ingestions by reason.",
	}, []string{"reason"})
)

type Config struct {
	// MaxDimension bounds the longest edge of stored images. Smaller images
	// are never upscaled.
	MaxDimension int

	// Quality is the jpeg quality used for the canonical re-encode.
	Quality int

	MaxUploadBytes int64
}

func DefaultConfig() Config {
	return Config{
		MaxDimension:   2048,
		Quality:        80,
		MaxUploadBytes: 50 << 20,
	}
}

// Metadata captures attributes of the original upload, stored alongside the
// image record. The stored bytes are always the re-encoded canonical form.
type Metadata struct {
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Format        string `json:"format"`
	Orientation   int    `json:"orientation,omitempty"`
	HasIccProfile bool   `json:"hasIccProfile,omitempty"`
}

func (m Metadata) Serialize() string {
	data, err := json.Marshal(m)
	if err != nil {
		slog.Error("error serializing image metadata", "error", err)
		return "{}"
	}
	return string(data)
}

type Result struct {
	StorageKey string
	Width      int
	Height     int
	Metadata   Metadata
}

type Pipeline struct {
	store storage.Gateway
	cfg   Config
}

func NewPipeline(store storage.Gateway, cfg Config) *Pipeline {
	return &Pipeline{store: store, cfg: cfg}
}

func (p *Pipeline) MaxUploadBytes() int64 {
	return p.cfg.MaxUploadBytes
}

// Ingest validates, normalizes, and stores an uploaded image. The object is
// written to storage only after every processing step succeeds, the caller is
// expected to record the returned key afterwards.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, contentType string) (Result, error) {
	if !allowedContentTypes[contentType] {
		ingestFailures.WithLabelValues("unsupported_type").Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrUnsupportedContentType, contentType)
	}

	if int64(len(data)) > p.cfg.MaxUploadBytes {
		ingestFailures.WithLabelValues("too_large").Inc()
		return Result{}, fmt.Errorf("%w: %v bytes", ErrPayloadTooLarge, len(data))
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		ingestFailures.WithLabelValues("decode_failed").Inc()
		slog.Error("error decoding uploaded image", "content_type", contentType, "error", err)
		return Result{}, ErrInvalidImage
	}

	orientation := exifOrientation(data)
	img = applyOrientation(img, orientation)

	meta := Metadata{
		Width:         img.Bounds().Dx(),
		Height:        img.Bounds().Dy(),
		Format:        format,
		Orientation:   orientation,
		HasIccProfile: bytes.Contains(data, []byte("ICC_PROFILE")),
	}

	img = p.downscale(img)

	var buf bytes.Buffer
	err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.cfg.Quality})
	if err != nil {
		ingestFailures.WithLabelValues("encode_failed").Inc()
		slog.Error("error encoding canonical image", "error", err)
		return Result{}, fmt.Errorf("error encoding image: %w", err)
	}

	key := fmt.Sprintf("images/%v-%v.jpg", time.Now().UnixMilli(), uuid.New())

	err = p.store.Put(ctx, key, buf.Bytes(), "image/jpeg")
	if err != nil {
		ingestFailures.WithLabelValues("storage_failed").Inc()
		return Result{}, fmt.Errorf("error storing image: %w", err)
	}

	imagesIngested.Inc()

	return Result{
		StorageKey: key,
		Width:      img.Bounds().Dx(),
		Height:     img.Bounds().Dy(),
		Metadata:   meta,
	}, nil
}

func (p *Pipeline) downscale(img image.Image) image.Image {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	if width <= p.cfg.MaxDimension && height <= p.cfg.MaxDimension {
		return img
	}

	targetW, targetH := TargetDimensions(width, height, p.cfg.MaxDimension)
	return resize.Resize(uint(targetW), uint(targetH), img, resize.Lanczos3)
}

// TargetDimensions computes the size of a downscaled image, preserving aspect
// ratio with the longest edge bounded by maxDim. Dimensions within the bound
// are returned unchanged.
func TargetDimensions(width, height, maxDim int) (int, int) {
	if width <= maxDim && height <= maxDim {
		return width, height
	}
	if width > height {
		return maxDim, int(math.Round(float64(height) / float64(width) * float64(maxDim)))
	}
	return int(math.Round(float64(width) / float64(height) * float64(maxDim))), maxDim
}

// exifOrientation returns the exif orientation tag value, or 0 when absent or
// unreadable. Png and webp uploads typically carry no exif block.
func exifOrientation(data []byte) int {
	meta, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}

	tag, err := meta.Get(exif.Orientation)
	if err != nil {
		return 0
	}

	orientation, err := tag.Int(0)
	if err != nil {
		return 0
	}

	return orientation
}
