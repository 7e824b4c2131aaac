package compress

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"mime"
	"path/filepath"
	"strings"

	// Registered decoders for the accepted media types.
	_ "image/gif"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
)

const (
	DefaultMaxWidth  = 200
	DefaultMaxHeight = 200
	DefaultQuality   = 0.7

	outputContentType = "image/jpeg"
	outputExt         = ".jpg"
)

//nolint:gochecknoglobals // read-only lookup table
var acceptedTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// Options bounds the output image. Quality is in (0, 1].
type Options struct {
	MaxWidth  int
	MaxHeight int
	Quality   float64
}

// ImageCompressor scales images down to fit a bounding box and re-encodes them as JPEG.
type ImageCompressor struct {
	opts Options
}

func NewImageCompressor(opts Options) *ImageCompressor {
	if opts.MaxWidth < 1 {
		opts.MaxWidth = DefaultMaxWidth
	}
	if opts.MaxHeight < 1 {
		opts.MaxHeight = DefaultMaxHeight
	}
	if opts.Quality <= 0 || opts.Quality > 1 {
		opts.Quality = DefaultQuality
	}

	return &ImageCompressor{opts: opts}
}

// Compress returns a new, re-encoded file. The input file is left untouched.
//
// Files whose media type is not an accepted raster image type fail with
// entity.ErrUnsupportedFormat.
func (c *ImageCompressor) Compress(ctx context.Context, file entity.File) (entity.File, error) {
	mediaType := MediaType(file)
	if _, ok := acceptedTypes[mediaType]; !ok {
		return entity.File{}, fmt.Errorf("%s: %w", mediaType, entity.ErrUnsupportedFormat)
	}

	src, _, err := image.Decode(bytes.NewReader(file.Data))
	if err != nil {
		return entity.File{}, fmt.Errorf("decode %s: %w", file.Name, err)
	}

	bounds := src.Bounds()
	width, height := FitWithin(bounds.Dx(), bounds.Dy(), c.opts.MaxWidth, c.opts.MaxHeight)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	// JPEG has no alpha; flatten onto white like a browser canvas export.
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality(c.opts.Quality)}); err != nil {
		return entity.File{}, fmt.Errorf("encode %s: %w", file.Name, err)
	}

	return entity.File{
		Name:        ReplaceExt(file.Name, outputExt),
		ContentType: outputContentType,
		Data:        buf.Bytes(),
	}, nil
}

// MediaType returns the declared media type of file, sniffing the content
// when nothing specific was declared.
func MediaType(file entity.File) string {
	declared := strings.TrimSpace(file.ContentType)
	if declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
			declared = strings.ToLower(mediaType)
		}
	}

	if declared == "" || declared == "application/octet-stream" {
		detected := mimetype.Detect(file.Data).String()
		if mediaType, _, err := mime.ParseMediaType(detected); err == nil {
			return mediaType
		}
		return detected
	}

	return declared
}

// FitWithin scales width x height down to fit maxWidth x maxHeight while
// keeping the aspect ratio. The width bound is applied first, then the
// height bound on the result. Images already inside the box are unchanged.
func FitWithin(width, height, maxWidth, maxHeight int) (int, int) {
	w, h := float64(width), float64(height)

	if w > float64(maxWidth) {
		h = h * float64(maxWidth) / w
		w = float64(maxWidth)
	}

	if h > float64(maxHeight) {
		w = w * float64(maxHeight) / h
		h = float64(maxHeight)
	}

	return max(int(w), 1), max(int(h), 1)
}

// ReplaceExt swaps the extension of name for ext, appending it when name has none.
func ReplaceExt(name, ext string) string {
	if current := filepath.Ext(name); current != "" {
		return strings.TrimSuffix(name, current) + ext
	}
	return name + ext
}

func jpegQuality(q float64) int {
	return min(max(int(q*100+0.5), 1), 100)
}
