package images

import (
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"os"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ReadFile decodes the image at path into a BGR Image.
//
// Arguments:
//   - path: Path to a JPEG, PNG, BMP or WebP file.
//
// Returns:
//   - *Image: The decoded image.
//   - error: An error if the file cannot be opened or decoded.
func ReadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	defer f.Close()

	decoded, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode image %s", path)
	}
	return FromImage(decoded), nil
}

// ReadSize returns the pixel dimensions of the image at path without decoding
// its pixels.
func ReadSize(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, errors.Wrap(err, "open image")
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "decode image config %s", path)
	}
	return cfg.Width, cfg.Height, nil
}
