package imagedata_test

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"runtime"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pcbrecon-backend/internal/apperr"
	"pcbrecon-backend/internal/imagedata"
)

func boardImage(t *testing.T, format imaging.Format) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 5), B: 0x40, A: 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, format))
	return buf.Bytes()
}

func TestRoundTrip_PixelIdentical(t *testing.T) {
	for _, format := range []imaging.Format{imaging.PNG, imaging.JPEG} {
		raw := boardImage(t, format)
		original, err := imaging.Decode(bytes.NewReader(raw))
		require.NoError(t, err)

		parsed, err := imagedata.Parse(imagedata.EncodeDataURL("image/whatever", raw), imagedata.DefaultLimits())
		require.NoError(t, err)
		assert.Equal(t, raw, parsed.Data)

		decoded, err := imagedata.Decode(parsed)
		require.NoError(t, err)
		require.Equal(t, original.Bounds(), decoded.Bounds())
		for y := 0; y < original.Bounds().Dy(); y++ {
			for x := 0; x < original.Bounds().Dx(); x++ {
				require.Equal(t, original.At(x, y), decoded.At(x, y), "pixel %d,%d", x, y)
			}
		}
	}
}

func TestParse_DetectsType(t *testing.T) {
	img, err := imagedata.Parse(imagedata.EncodeDataURL("image/png", boardImage(t, imaging.PNG)), imagedata.DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, 64, img.Width)
	assert.Equal(t, 48, img.Height)
	assert.Equal(t, ".png", img.Extension())
	assert.True(t, strings.HasPrefix(img.DataURL(), "data:image/png;base64,"))
}

func TestParse_BareBase64(t *testing.T) {
	raw := boardImage(t, imaging.JPEG)
	img, err := imagedata.Parse(strings.TrimPrefix(imagedata.EncodeDataURL("image/jpeg", raw), "data:image/jpeg;base64,"), imagedata.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.MIMEType)
}

func TestValidate_TooLarge(t *testing.T) {
	data := make([]byte, 6<<20)

	_, err := imagedata.Validate(data, "image/jpeg", imagedata.DefaultLimits())

	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Image size must be less than 5MB", verr.Message)
}

func TestValidate_ExactlyAtLimit(t *testing.T) {
	raw := boardImage(t, imaging.PNG)
	_, err := imagedata.Validate(raw, "image/png", imagedata.Limits{MaxBytes: int64(len(raw))})
	assert.NoError(t, err)
}

func TestValidate_NotAnImage(t *testing.T) {
	_, err := imagedata.Validate([]byte("%PDF-1.4 not a board"), "", imagedata.DefaultLimits())
	require.Error(t, err)
	assert.Equal(t, "Please select an image file", err.Error())

	_, err = imagedata.Validate(boardImage(t, imaging.PNG), "application/pdf", imagedata.DefaultLimits())
	assert.True(t, apperr.IsValidation(err))
}

func TestValidate_TruncatedImage(t *testing.T) {
	raw := boardImage(t, imaging.PNG)
	_, err := imagedata.Validate(raw[:len(raw)/2], "image/png", imagedata.DefaultLimits())
	assert.True(t, apperr.IsValidation(err))
}

// pngHeader returns a PNG signature and IHDR chunk declaring a grayscale
// image of the given size, with no pixel data behind it.
func pngHeader(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth, color type 0 (gray)

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func allocatedDuring(fn func()) uint64 {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	fn()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

func TestValidate_PixelCeilingCheckedBeforeDecode(t *testing.T) {
	data := pngHeader(30000, 30000)

	var err error
	allocated := allocatedDuring(func() {
		_, err = imagedata.Validate(data, "image/png", imagedata.DefaultLimits())
	})

	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Image is 30000x30000 pixels; it must be at most 50.0 megapixels", verr.Message)
	assert.Less(t, allocated, uint64(8<<20))
}

func TestValidate_LargeBlankPNG(t *testing.T) {
	if testing.Short() {
		t.Skip("encodes a 56 megapixel image")
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8000, 7000))))
	data := buf.Bytes()
	require.Less(t, int64(len(data)), imagedata.DefaultMaxBytes)

	var err error
	allocated := allocatedDuring(func() {
		_, err = imagedata.Validate(data, "image/png", imagedata.DefaultLimits())
	})

	assert.True(t, apperr.IsValidation(err))
	assert.Less(t, allocated, uint64(8<<20))
}

func TestValidate_MaxPixels(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 400, 300))))

	_, err := imagedata.Validate(buf.Bytes(), "image/png", imagedata.Limits{MaxPixels: 119_999})
	assert.True(t, apperr.IsValidation(err))

	img, err := imagedata.Validate(buf.Bytes(), "image/png", imagedata.Limits{MaxPixels: 120_000})
	require.NoError(t, err)
	assert.Equal(t, 400, img.Width)
	assert.Equal(t, 300, img.Height)
}

func TestParseDataURL_Malformed(t *testing.T) {
	cases := []string{
		"",
		"data:image/png;base64",
		"data:image/png,rawbytes",
		"data:image/png;base64,***",
	}
	for _, c := range cases {
		_, _, err := imagedata.ParseDataURL(c)
		assert.True(t, apperr.IsValidation(err), c)
	}
}

func TestSizeMessage(t *testing.T) {
	assert.Equal(t, "Image size must be less than 5MB", imagedata.SizeMessage(5<<20))
	assert.Equal(t, "Image size must be less than 512KB", imagedata.SizeMessage(512<<10))
}

func TestLoad_StoredDataURL(t *testing.T) {
	raw := boardImage(t, imaging.PNG)

	img, err := imagedata.Load(imagedata.EncodeDataURL("image/png", raw))
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, raw, img.Data)

	bare, err := imagedata.Load(img.Base64())
	require.NoError(t, err)
	assert.Equal(t, "image/png", bare.MIMEType)
}
