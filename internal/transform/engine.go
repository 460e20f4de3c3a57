package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/cuongbtq/imageflow/internal/domain"
)

// Engine applies pixel operations to image bytes. It is pure and stateless:
// the same source bytes and parameters always produce the same output, so
// re-running an operation after a crash is safe.
type Engine struct{}

// NewEngine creates a transform engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Apply decodes src, performs the operation and returns JPEG-encoded output.
// Malformed input and out-of-schema parameters are reported as
// non-retryable transform errors; only resource-level failures are marked
// retryable by callers further up.
func (e *Engine) Apply(ctx context.Context, src []byte, op string, p domain.Params) ([]byte, error) {
	if err := domain.ValidateParams(op, p); err != nil {
		return nil, domain.NewTransformError(domain.ErrCodeInvalidParams, false, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, domain.NewTransformError(domain.ErrCodeTransformFailed, true, err)
	}

	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, domain.NewTransformError(domain.ErrCodeTransformFailed, false,
			fmt.Errorf("failed to decode image: %w", err))
	}

	out, err := e.apply(img, op, p)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, out, imaging.JPEG); err != nil {
		return nil, domain.NewTransformError(domain.ErrCodeTransformFailed, false,
			fmt.Errorf("failed to encode image: %w", err))
	}

	return buf.Bytes(), nil
}

func (e *Engine) apply(img image.Image, op string, p domain.Params) (image.Image, error) {
	switch op {
	case domain.OpResize:
		return imaging.Resize(img, p.Width, p.Height, imaging.Lanczos), nil
	case domain.OpThumbnail:
		return imaging.Thumbnail(img, p.Width, p.Height, imaging.Lanczos), nil
	case domain.OpBlur:
		return imaging.Blur(img, p.Sigma), nil
	case domain.OpSharpen:
		return imaging.Sharpen(img, p.Sigma), nil
	case domain.OpGrayscale:
		return imaging.Grayscale(img), nil
	case domain.OpSepia:
		return sepia(img), nil
	case domain.OpBrightness:
		return imaging.AdjustBrightness(img, p.Percentage), nil
	case domain.OpContrast:
		return imaging.AdjustContrast(img, p.Percentage), nil
	case domain.OpWatermark:
		return watermark(img, p.Text), nil
	}
	return nil, domain.NewTransformError(domain.ErrCodeInvalidParams, false,
		fmt.Errorf("%w: %q", domain.ErrInvalidOperation, op))
}

// sepia applies the standard sepia tone matrix per pixel.
func sepia(img image.Image) image.Image {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		r, g, b := float64(c.R), float64(c.G), float64(c.B)
		return color.NRGBA{
			R: clamp(0.393*r + 0.769*g + 0.189*b),
			G: clamp(0.349*r + 0.686*g + 0.168*b),
			B: clamp(0.272*r + 0.534*g + 0.131*b),
			A: c.A,
		}
	})
}

// watermark draws text anchored to the bottom-right corner.
func watermark(img image.Image, text string) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetColor(color.White)

	margin := 10.0
	x := float64(dc.Width()) - margin
	y := float64(dc.Height()) - margin

	dc.DrawStringAnchored(text, x, y, 1, 1)

	return dc.Image()
}

func clamp(v float64) uint8 {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}
