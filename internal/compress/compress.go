// Package compress shrinks byte-heavy evidence before it is attached to the
// execution record.
//
// Compression is a best-effort optimization with graceful fallback: a payload
// that cannot be shrunk is stored as captured, never rejected. Photos are
// re-encoded as downscaled JPEG; signature strokes and other opaque payloads
// go through deflate.
package compress

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png" // registered for photo decoding

	"github.com/klauspost/compress/flate"
	xdraw "golang.org/x/image/draw"
)

const (
	// TypeJPEG marks a photo re-encoded as downscaled JPEG.
	TypeJPEG = "jpeg"
	// TypeDeflate marks a payload passed through raw deflate.
	TypeDeflate = "deflate"

	// DefaultThreshold is the raw size below which payloads are left alone.
	DefaultThreshold = 256 << 10

	defaultMaxDimension = 1920
	defaultJPEGQuality  = 75
)

// Kind selects the transform applied to a payload.
type Kind string

const (
	KindPhoto     Kind = "photo"
	KindSignature Kind = "signature"
)

// Result describes one compression attempt.
//
// Applied=false means the original bytes are in Data unchanged; the caller
// stores them uncompressed.
type Result struct {
	Applied         bool
	Data            []byte
	CompressionType string
	OriginalSize    int
	CompressedSize  int
}

// Saved returns how many bytes the attempt removed.
func (r Result) Saved() int {
	if !r.Applied {
		return 0
	}
	return r.OriginalSize - r.CompressedSize
}

// Pipeline applies size-aware transforms to evidence payloads.
type Pipeline struct {
	// Threshold is the raw size above which compression is attempted.
	Threshold int
	// MaxDimension bounds the longest photo edge after downscaling.
	MaxDimension int
	// JPEGQuality is the re-encode quality for photos.
	JPEGQuality int
}

// NewPipeline returns a pipeline with the default thresholds.
func NewPipeline() *Pipeline {
	return &Pipeline{
		Threshold:    DefaultThreshold,
		MaxDimension: defaultMaxDimension,
		JPEGQuality:  defaultJPEGQuality,
	}
}

// Compress transforms raw according to kind.
//
// It never fails: any decode or encode error, and any transform that does not
// actually shrink the payload, falls back to the original bytes with
// Applied=false.
func (p *Pipeline) Compress(raw []byte, kind Kind) Result {
	unchanged := Result{Data: raw, OriginalSize: len(raw), CompressedSize: len(raw)}
	if len(raw) == 0 || len(raw) <= p.threshold() {
		return unchanged
	}

	if kind == KindPhoto {
		if data, ok := p.reencodePhoto(raw); ok && len(data) < len(raw) {
			return Result{
				Applied:         true,
				Data:            data,
				CompressionType: TypeJPEG,
				OriginalSize:    len(raw),
				CompressedSize:  len(data),
			}
		}
		// Not a decodable image, or re-encoding did not shrink it. Fall
		// through to deflate before giving up.
	}

	if data, ok := deflate(raw); ok && len(data) < len(raw) {
		return Result{
			Applied:         true,
			Data:            data,
			CompressionType: TypeDeflate,
			OriginalSize:    len(raw),
			CompressedSize:  len(data),
		}
	}
	return unchanged
}

func (p *Pipeline) threshold() int {
	if p == nil || p.Threshold <= 0 {
		return DefaultThreshold
	}
	return p.Threshold
}

func (p *Pipeline) reencodePhoto(raw []byte) ([]byte, bool) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}

	maxDim := p.MaxDimension
	if maxDim <= 0 {
		maxDim = defaultMaxDimension
	}
	quality := p.JPEGQuality
	if quality <= 0 {
		quality = defaultJPEGQuality
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > maxDim || h > maxDim {
		scale := float64(maxDim) / float64(w)
		if h > w {
			scale = float64(maxDim) / float64(h)
		}
		dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

func deflate(raw []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, false
	}
	if _, err := w.Write(raw); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// Decompress reverses a deflate transform.
//
// JPEG re-encoding is lossy and has no inverse; asking to decompress it is a
// caller error.
func Decompress(data []byte, compressionType string) ([]byte, error) {
	switch compressionType {
	case TypeDeflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, &UnsupportedError{CompressionType: compressionType}
	}
}

// UnsupportedError reports a compression type with no inverse transform.
type UnsupportedError struct {
	CompressionType string
}

func (e *UnsupportedError) Error() string {
	return "cannot decompress payload of type " + e.CompressionType
}
