package conversion

import (
	"image"
	"io"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/tiff"
)

// tiffDecode decodes a TIFF source via golang.org/x/image/tiff rather
// than imgconv's generic path, since imgconv's TIFF support assumes the
// subset the stdlib-adjacent decoders handle and this pack's pyramid
// sources include multi-strip georeferenced TIFFs that need the fuller
// x/image decoder.
func tiffDecode(r io.Reader) (image.Image, error) {
	return tiff.Decode(r)
}

// webpDecode decodes a WebP source with a pure-Go decoder so the worker
// process has no cgo/libwebp dependency to isolate.
func webpDecode(r io.Reader) (image.Image, error) {
	return nativewebp.Decode(r)
}
