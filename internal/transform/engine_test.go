package transform

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/imageflow/internal/domain"
)

// testImageJPEG renders a small gradient and encodes it as JPEG.
func testImageJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8(x * 255 / width),
				G: uint8(y * 255 / height),
				B: 128,
				A: 255,
			})
		}
	}

	buf := new(bytes.Buffer)
	require.NoError(t, imaging.Encode(buf, img, imaging.JPEG))
	return buf.Bytes()
}

func decodeDims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func TestEngine_Apply_Resize(t *testing.T) {
	engine := NewEngine()
	src := testImageJPEG(t, 200, 200)

	out, err := engine.Apply(context.Background(), src, domain.OpResize, domain.Params{Width: 100, Height: 50})
	require.NoError(t, err)

	w, h := decodeDims(t, out)
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, h)
}

func TestEngine_Apply_Thumbnail(t *testing.T) {
	engine := NewEngine()
	src := testImageJPEG(t, 400, 200)

	out, err := engine.Apply(context.Background(), src, domain.OpThumbnail, domain.Params{Width: 64, Height: 64})
	require.NoError(t, err)

	w, h := decodeDims(t, out)
	assert.Equal(t, 64, w)
	assert.Equal(t, 64, h)
}

func TestEngine_Apply_PreservesDimensions(t *testing.T) {
	engine := NewEngine()
	src := testImageJPEG(t, 80, 60)

	tests := []struct {
		op     string
		params domain.Params
	}{
		{domain.OpBlur, domain.Params{Sigma: 2.5}},
		{domain.OpSharpen, domain.Params{Sigma: 1.0}},
		{domain.OpGrayscale, domain.Params{}},
		{domain.OpSepia, domain.Params{}},
		{domain.OpBrightness, domain.Params{Percentage: 25}},
		{domain.OpContrast, domain.Params{Percentage: -40}},
		{domain.OpWatermark, domain.Params{Text: "sample"}},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			out, err := engine.Apply(context.Background(), src, tt.op, tt.params)
			require.NoError(t, err)

			w, h := decodeDims(t, out)
			assert.Equal(t, 80, w)
			assert.Equal(t, 60, h)
		})
	}
}

func TestEngine_Apply_Grayscale(t *testing.T) {
	engine := NewEngine()
	src := testImageJPEG(t, 40, 40)

	out, err := engine.Apply(context.Background(), src, domain.OpGrayscale, domain.Params{})
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	// Channels stay close after the JPEG round trip.
	r, g, b, _ := img.At(10, 10).RGBA()
	assert.InDelta(t, float64(r), float64(g), 2048)
	assert.InDelta(t, float64(g), float64(b), 2048)
}

func TestEngine_Apply_UnknownOperation(t *testing.T) {
	engine := NewEngine()
	src := testImageJPEG(t, 40, 40)

	_, err := engine.Apply(context.Background(), src, "rotate", domain.Params{})
	require.Error(t, err)

	var tErr *domain.TransformError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, domain.ErrCodeInvalidParams, tErr.Code)
	assert.False(t, tErr.Retryable)
}

func TestEngine_Apply_InvalidParameters(t *testing.T) {
	engine := NewEngine()
	src := testImageJPEG(t, 40, 40)

	tests := []struct {
		name   string
		op     string
		params domain.Params
	}{
		{"resize without dimensions", domain.OpResize, domain.Params{}},
		{"blur with zero sigma", domain.OpBlur, domain.Params{}},
		{"blur sigma over ceiling", domain.OpBlur, domain.Params{Sigma: 51}},
		{"brightness out of range", domain.OpBrightness, domain.Params{Percentage: 150}},
		{"watermark without text", domain.OpWatermark, domain.Params{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Apply(context.Background(), src, tt.op, tt.params)
			require.Error(t, err)

			var tErr *domain.TransformError
			require.True(t, errors.As(err, &tErr))
			assert.False(t, tErr.Retryable)
		})
	}
}

func TestEngine_Apply_MalformedImage(t *testing.T) {
	engine := NewEngine()

	_, err := engine.Apply(context.Background(), []byte("not an image"), domain.OpGrayscale, domain.Params{})
	require.Error(t, err)

	var tErr *domain.TransformError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, domain.ErrCodeTransformFailed, tErr.Code)
	assert.False(t, tErr.Retryable)
}

func TestEngine_Apply_CanceledContext(t *testing.T) {
	engine := NewEngine()
	src := testImageJPEG(t, 40, 40)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Apply(ctx, src, domain.OpGrayscale, domain.Params{})
	require.Error(t, err)

	var tErr *domain.TransformError
	require.True(t, errors.As(err, &tErr))
	assert.True(t, tErr.Retryable)
}

func TestEngine_Apply_Deterministic(t *testing.T) {
	engine := NewEngine()
	src := testImageJPEG(t, 60, 60)

	first, err := engine.Apply(context.Background(), src, domain.OpSepia, domain.Params{})
	require.NoError(t, err)
	second, err := engine.Apply(context.Background(), src, domain.OpSepia, domain.Params{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
