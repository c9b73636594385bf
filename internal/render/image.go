package render

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// Image is an already-encoded PNG. When it was produced in a scratch
// directory, closing it removes that directory.
type Image struct {
	Data []byte
	dir  string
}

// NewImage wraps PNG bytes. dir, if non-empty, is removed on Close.
func NewImage(data []byte, dir string) (*Image, error) {
	if !IsPNG(data) {
		return nil, fmt.Errorf("image data is not a PNG")
	}
	return &Image{Data: data, dir: dir}, nil
}

// IsPNG reports whether data starts with the PNG signature.
func IsPNG(data []byte) bool {
	return bytes.HasPrefix(data, pngSignature)
}

// Render writes the PNG bytes unchanged.
func (i *Image) Render(w io.Writer) error {
	_, err := w.Write(i.Data)
	return err
}

// Close removes the image's scratch directory, if any.
func (i *Image) Close() error {
	if i.dir == "" {
		return nil
	}
	dir := i.dir
	i.dir = ""
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return nil
}
