package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Supported transform operations.
const (
	OpResize     = "resize"
	OpThumbnail  = "thumbnail"
	OpBlur       = "blur"
	OpSharpen    = "sharpen"
	OpGrayscale  = "grayscale"
	OpSepia      = "sepia"
	OpBrightness = "brightness"
	OpContrast   = "contrast"
	OpWatermark  = "watermark"
)

// MaxSigma bounds the blur/sharpen kernel size.
const MaxSigma = 50

// Params holds operation-specific configuration. Which fields are meaningful
// depends on the operation; ValidateParams enforces the per-operation schema.
type Params struct {
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	Sigma      float64 `json:"sigma,omitempty"`
	Percentage float64 `json:"percentage,omitempty"`
	Text       string  `json:"text,omitempty"`
}

// Value serializes params to JSON for database storage.
func (p Params) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan deserializes params from a JSON database column.
func (p *Params) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	case nil:
		*p = Params{}
		return nil
	}
	return fmt.Errorf("cannot scan %T into Params", src)
}

// KnownOperation reports whether op is one of the supported operation kinds.
func KnownOperation(op string) bool {
	switch op {
	case OpResize, OpThumbnail, OpBlur, OpSharpen, OpGrayscale,
		OpSepia, OpBrightness, OpContrast, OpWatermark:
		return true
	}
	return false
}

// ValidateParams checks p against the schema of op. It returns
// ErrInvalidOperation for unknown kinds and ErrInvalidParameters (wrapped with
// the offending field) when a value is out of range.
func ValidateParams(op string, p Params) error {
	switch op {
	case OpResize, OpThumbnail:
		if p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("%w: %s requires positive width and height", ErrInvalidParameters, op)
		}
	case OpBlur, OpSharpen:
		if p.Sigma <= 0 || p.Sigma > MaxSigma {
			return fmt.Errorf("%w: %s sigma must be in (0, %d]", ErrInvalidParameters, op, MaxSigma)
		}
	case OpBrightness, OpContrast:
		if p.Percentage < -100 || p.Percentage > 100 {
			return fmt.Errorf("%w: %s percentage must be in [-100, 100]", ErrInvalidParameters, op)
		}
	case OpGrayscale, OpSepia:
		// No parameters.
	case OpWatermark:
		if p.Text == "" {
			return fmt.Errorf("%w: watermark requires non-empty text", ErrInvalidParameters)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
	return nil
}
