package render

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/draw"
	"image/png"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"

	_ "image/gif"
	_ "image/jpeg"
)

// renderTypedSignature rasterizes a typed signature into a PNG with a
// transparent background, for use both on the page and as the archival
// artifact behind the party's signature record.
func renderTypedSignature(text string, ttf []byte, width, height int) ([]byte, error) {
	parsed, err := opentype.Parse(ttf)
	if err != nil {
		return nil, err
	}

	// Size the glyphs to roughly two thirds of the box height.
	size := float64(height) * 0.66
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, err
	}
	defer face.Close()

	dc := gg.NewContext(width, height)
	dc.SetFontFace(face)
	dc.SetRGB(0.05, 0.05, 0.2)
	dc.DrawStringAnchored(text, float64(width)/2, float64(height)/2, 0.5, 0.5)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeImagePayload decodes a base64 image payload, tolerating a
// data-URL prefix. The result is always PNG bytes: images carrying
// transparency are preserved as-is, anything else is flattened onto an
// opaque white background.
func decodeImagePayload(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, "data:") {
		if i := strings.Index(payload, ","); i >= 0 {
			payload = payload[i+1:]
		}
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	if op, ok := img.(interface{ Opaque() bool }); ok && !op.Opaque() {
		// Keep the alpha channel; re-encode to normalize the format.
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	bounds := img.Bounds()
	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, image.White, image.Point{}, draw.Src)
	draw.Draw(flat, bounds, img, bounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, flat); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
