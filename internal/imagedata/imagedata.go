// Package imagedata converts board images between raw bytes and the data-URL
// form they travel in over the API, and validates them.
package imagedata

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	"pcbrecon-backend/internal/apperr"
)

// DefaultMaxBytes is the upload ceiling for a single image.
const DefaultMaxBytes int64 = 5 << 20

// DefaultMaxPixels bounds width*height. Compressed formats can describe far
// more pixels than their byte size suggests, and decoding allocates per pixel.
const DefaultMaxPixels int64 = 50_000_000

// Limits bounds an upload. Zero fields fall back to the defaults.
type Limits struct {
	MaxBytes  int64
	MaxPixels int64
}

// DefaultLimits returns the limits used when nothing is configured.
func DefaultLimits() Limits {
	return Limits{MaxBytes: DefaultMaxBytes, MaxPixels: DefaultMaxPixels}
}

func (l Limits) normalize() Limits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxBytes
	}
	if l.MaxPixels <= 0 {
		l.MaxPixels = DefaultMaxPixels
	}
	return l
}

const field = "image_base64"

// Image is a validated, decoded upload.
type Image struct {
	MIMEType string
	Data     []byte
	Width    int
	Height   int
}

// Parse decodes a data URL (or bare base64 payload) and validates the result.
func Parse(s string, limits Limits) (*Image, error) {
	declared, data, err := ParseDataURL(s)
	if err != nil {
		return nil, err
	}
	return Validate(data, declared, limits)
}

// ParseDataURL splits "data:<mime>[;params];base64,<payload>" into its declared
// MIME type and decoded bytes. A payload without the data: header is accepted
// as bare base64 with no declared type.
func ParseDataURL(s string) (string, []byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil, apperr.Validation(field, "Please select an image")
	}

	declared := ""
	payload := s
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return "", nil, apperr.Validation(field, "Image data URL is malformed")
		}
		header := s[len("data:"):comma]
		payload = s[comma+1:]

		params := strings.Split(header, ";")
		declared = strings.ToLower(strings.TrimSpace(params[0]))
		if params[len(params)-1] != "base64" {
			return "", nil, apperr.Validation(field, "Image data URL must be base64 encoded")
		}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return "", nil, apperr.Validation(field, "Image data is not valid base64")
		}
	}
	return declared, data, nil
}

// Validate checks size, declared type, sniffed type, pixel dimensions and
// decodability, in that order. Dimensions come from the header alone, so an
// image over the pixel ceiling is rejected before any pixel buffer exists.
func Validate(data []byte, declared string, limits Limits) (*Image, error) {
	limits = limits.normalize()
	if len(data) == 0 {
		return nil, apperr.Validation(field, "Please select an image")
	}
	if int64(len(data)) > limits.MaxBytes {
		return nil, apperr.Validation(field, SizeMessage(limits.MaxBytes))
	}
	if declared != "" && !strings.HasPrefix(declared, "image/") {
		return nil, apperr.Validation(field, "Please select an image file")
	}

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return nil, apperr.Validation(field, "Please select an image file")
	}
	undecodable := apperr.Validation(field, fmt.Sprintf("Image could not be decoded as %s", detected.String()))

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, undecodable
	}
	if int64(cfg.Width)*int64(cfg.Height) > limits.MaxPixels {
		return nil, apperr.Validation(field, DimensionsMessage(cfg.Width, cfg.Height, limits.MaxPixels))
	}

	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return nil, undecodable
	}

	return &Image{
		MIMEType: detected.String(),
		Data:     data,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

// Load decodes a previously validated data URL without checking it again.
// Width and Height are left zero.
func Load(dataURL string) (*Image, error) {
	declared, data, err := ParseDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	if declared == "" {
		declared = mimetype.Detect(data).String()
	}
	return &Image{MIMEType: declared, Data: data}, nil
}

// SizeMessage is the user-facing message for an upload over maxBytes.
func SizeMessage(maxBytes int64) string {
	if maxBytes%(1<<20) == 0 {
		return fmt.Sprintf("Image size must be less than %dMB", maxBytes>>20)
	}
	return fmt.Sprintf("Image size must be less than %dKB", maxBytes>>10)
}

// DimensionsMessage is the user-facing message for an image over maxPixels.
func DimensionsMessage(width, height int, maxPixels int64) string {
	return fmt.Sprintf("Image is %dx%d pixels; it must be at most %.1f megapixels", width, height, float64(maxPixels)/1e6)
}

// EncodeDataURL renders data as data:<mime>;base64,<payload>.
func EncodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DataURL returns the transport representation of img.
func (img *Image) DataURL() string {
	return EncodeDataURL(img.MIMEType, img.Data)
}

// Base64 returns the payload without the data-URL header.
func (img *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// Extension returns the conventional file extension, including the dot.
func (img *Image) Extension() string {
	if m := mimetype.Lookup(img.MIMEType); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".img"
}

// Decode returns the pixels of img.
func Decode(img *Image) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(img.Data))
}
