package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	_ "image/gif"

	"github.com/disintegration/imaging"
	"github.com/leca/dt-image-workflows/internal/model"
)

// ErrUnsupportedFormat is returned for data that is not a recognised image.
var ErrUnsupportedFormat = errors.New("unsupported or unrecognized image format")

// DefaultMaxSide is the longest side of a normalised selfie.
const DefaultMaxSide = 2048

// Fit modes accepted by Transform.
const (
	FitScaleDown = "scale-down"
	FitContain   = "contain"
	FitCover     = "cover"
	FitCrop      = "crop"
	FitPad       = "pad"
)

// ValidFit reports whether fit is a known fit mode. Empty selects scale-down.
func ValidFit(fit string) bool {
	switch fit {
	case "", FitScaleDown, FitContain, FitCover, FitCrop, FitPad:
		return true
	}
	return false
}

// DetectFormat inspects the raw bytes and returns the image format:
// "jpeg", "png", "gif", "webp", or "" if unknown.
func DetectFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "jpeg"
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "png"
	case bytes.HasPrefix(data, []byte("GIF8")):
		return "gif"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "webp"
	}
	return ""
}

// ContentType returns the MIME type for a format from DetectFormat.
func ContentType(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png", "gif", "webp":
		return "image/" + format
	}
	return "application/octet-stream"
}

// Extension returns the file extension for a format from DetectFormat.
func Extension(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "":
		return "bin"
	}
	return format
}

// FormatForExtension maps a stored extension back to its format.
func FormatForExtension(ext string) string {
	switch ext {
	case "jpg", "jpeg":
		return "jpeg"
	case "png", "gif", "webp":
		return ext
	}
	return ""
}

// Normalize decodes an uploaded image, applies its EXIF orientation, shrinks
// it to fit within maxSide and re-encodes it as JPEG.
func Normalize(data []byte, maxSide int) ([]byte, error) {
	format := DetectFormat(data)
	if format == "" || format == "webp" {
		return nil, ErrUnsupportedFormat
	}
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() > maxSide || b.Dy() > maxSide {
		img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	return buf.Bytes(), nil
}

// Transform applies delivery-time resize options to the source image and
// returns the processed bytes and the output format. GIF and WebP are passed
// through unchanged.
func Transform(src io.Reader, opts model.ResizeOptions) ([]byte, string, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, "", fmt.Errorf("reading source: %w", err)
	}

	format := DetectFormat(data)
	switch format {
	case "":
		return nil, "", ErrUnsupportedFormat
	case "gif", "webp":
		return data, format, nil
	}
	if opts.Width == 0 && opts.Height == 0 {
		return data, format, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}
	img = applyFit(img, opts)

	var buf bytes.Buffer
	if format == "png" {
		err = png.Encode(&buf, img)
	} else {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		return nil, "", fmt.Errorf("encoding image: %w", err)
	}
	return buf.Bytes(), format, nil
}

// applyFit resizes img per opts. A zero dimension keeps the original one.
func applyFit(img image.Image, opts model.ResizeOptions) image.Image {
	origW, origH := img.Bounds().Dx(), img.Bounds().Dy()
	w, h := opts.Width, opts.Height
	if w == 0 {
		w = origW
	}
	if h == 0 {
		h = origH
	}

	switch opts.Fit {
	case FitContain:
		// Like scale-down but may enlarge.
		scale := min(float64(w)/float64(origW), float64(h)/float64(origH))
		nw := max(int(float64(origW)*scale+0.5), 1)
		nh := max(int(float64(origH)*scale+0.5), 1)
		return imaging.Resize(img, nw, nh, imaging.Lanczos)
	case FitCover:
		return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
	case FitCrop:
		return imaging.CropCenter(img, w, h)
	case FitPad:
		fitted := imaging.Fit(img, w, h, imaging.Lanczos)
		return imaging.PasteCenter(imaging.New(w, h, image.White), fitted)
	default:
		// scale-down never enlarges.
		if origW <= w && origH <= h {
			return img
		}
		return imaging.Fit(img, w, h, imaging.Lanczos)
	}
}
