// Package imageprep normalises claim photos before inference: oversized
// images are downscaled, formats the model does not accept are re-encoded
// as JPEG, and EXIF capture details are read when present.
package imageprep

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	_ "image/gif"
	_ "image/png"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/fpang/collision-estimator/internal/damage"
)

// DefaultMaxDimension bounds the longest side sent to the model.
const DefaultMaxDimension = 2048

const jpegQuality = 90

// passthrough lists MIME types the model accepts as-is.
var passthrough = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// Image is a prepared photo.
type Image struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	Resized  bool
}

// Prepare returns data ready for inference. Bytes that cannot be decoded
// are passed through unchanged so the model can still try them.
func Prepare(data []byte, mimeType string, maxDimension int) (Image, error) {
	if len(data) == 0 {
		return Image{}, fmt.Errorf("empty image")
	}
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	out := Image{Data: data, MIMEType: mimeType}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Str("mimeType", mimeType).Msg("Image not decodable, sending original bytes")
		return out, nil
	}
	bounds := img.Bounds()
	out.Width, out.Height = bounds.Dx(), bounds.Dy()

	needsResize := out.Width > maxDimension || out.Height > maxDimension
	needsReencode := !passthrough["image/"+format]
	if !needsResize && !needsReencode {
		out.MIMEType = "image/" + format
		return out, nil
	}

	if needsResize {
		w, h := ScaledDimensions(out.Width, out.Height, maxDimension)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
		out.Width, out.Height, out.Resized = w, h, true
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Image{}, fmt.Errorf("encode jpeg: %w", err)
	}
	log.Debug().
		Str("format", format).
		Int("origBytes", len(data)).
		Int("newBytes", buf.Len()).
		Int("width", out.Width).
		Int("height", out.Height).
		Msg("Image prepared")

	out.Data = buf.Bytes()
	out.MIMEType = "image/jpeg"
	return out, nil
}

// ScaledDimensions fits width x height into a maxDimension square keeping
// the aspect ratio. Neither side drops below one pixel.
func ScaledDimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}
	if width >= height {
		h := height * maxDimension / width
		return maxDimension, max(h, 1)
	}
	w := width * maxDimension / height
	return max(w, 1), maxDimension
}

// ReadCapture extracts EXIF capture details, or nil when the image has
// none.
func ReadCapture(data []byte) *damage.Capture {
	exif, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	c := &damage.Capture{
		Make:  strings.TrimSpace(exif.Make),
		Model: strings.TrimSpace(exif.Model),
	}
	if t := exif.DateTimeOriginal(); !t.IsZero() {
		c.TakenAt = t
	} else if t := exif.CreateDate(); !t.IsZero() {
		c.TakenAt = t
	}
	if c.TakenAt.IsZero() && c.Make == "" && c.Model == "" {
		return nil
	}
	return c
}
