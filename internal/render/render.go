// Package render turns chart values into base64-encoded PNG images.
package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

// Width and Height are the fixed output dimensions in pixels.
const (
	Width  = 1024
	Height = 640
)

// ErrNotRenderable is returned for values that carry no plot.
var ErrNotRenderable = errors.New("value is not a renderable chart")

// Renderable draws itself as a PNG.
type Renderable interface {
	Render(w io.Writer) error
}

// Plotter is implemented by results that carry an embedded plot.
type Plotter interface {
	Plot() Renderable
}

// ToImage renders v to PNG and returns it base64-encoded. Plotters are
// unwrapped first. Values implementing io.Closer are closed afterwards.
func ToImage(v any) (string, error) {
	if c, ok := v.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to release chart resources")
			}
		}()
	}

	var r Renderable
	switch t := v.(type) {
	case Plotter:
		r = t.Plot()
	case Renderable:
		r = t
	}
	if r == nil {
		return "", fmt.Errorf("%w: %T", ErrNotRenderable, v)
	}

	var buf bytes.Buffer
	if err := r.Render(&buf); err != nil {
		return "", fmt.Errorf("failed to render chart: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
