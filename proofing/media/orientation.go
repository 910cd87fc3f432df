package media

import (
	"image"
)

// applyOrientation bakes the exif orientation into the pixel data so that the
// canonical encode needs no orientation tag. Values follow the exif spec,
// anything outside 2-8 is a no-op.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return flipHorizontal(img)
	case 3:
		return rotate180(img)
	case 4:
		return flipVertical(img)
	case 5:
		// Transposed, mirror along the top-left diagonal.
		return flipHorizontal(rotate90(img))
	case 6:
		return rotate90(img)
	case 7:
		// Transversed, mirror along the bottom-left diagonal.
		return flipHorizontal(rotate270(img))
	case 8:
		return rotate270(img)
	default:
		return img
	}
}

func flipHorizontal(img image.Image) image.Image {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(bounds.Max.X-1-x, y-bounds.Min.Y, img.At(x, y))
		}
	}
	return out
}

func flipVertical(img image.Image) image.Image {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x-bounds.Min.X, bounds.Max.Y-1-y, img.At(x, y))
		}
	}
	return out
}

func rotate90(img image.Image) image.Image {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dy(), bounds.Dx()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(bounds.Max.Y-1-y, x-bounds.Min.X, img.At(x, y))
		}
	}
	return out
}

func rotate180(img image.Image) image.Image {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(bounds.Max.X-1-x, bounds.Max.Y-1-y, img.At(x, y))
		}
	}
	return out
}

func rotate270(img image.Image) image.Image {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dy(), bounds.Dx()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(y-bounds.Min.Y, bounds.Max.X-1-x, img.At(x, y))
		}
	}
	return out
}
