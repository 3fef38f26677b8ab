// Package render composes signed field values onto PDF pages: it maps
// UI coordinates to page coordinates, draws text, checkboxes, images
// and signatures, and stamps each page with the tracking id.
//
// Rendering degrades, it never aborts a page: unknown field types,
// undecodable image payloads and missing fonts are reported through
// the observer and skipped.
package render

import (
	"bytes"
	"context"
	"fmt"
	"io"

	pdfr "github.com/digitorus/pdf"
	"github.com/signintech/gopdf"

	"github.com/averros/signflow/pkg/api"
)

const (
	defaultFontSize = 12.0
	lineSpacing     = 1.3
	checkboxSide    = 12.0
	stampFontSize   = 7.0
	stampMargin     = 18.0
)

// RecordStore is the durable home of per-party signature records.
// Satisfied by the tracking store.
type RecordStore interface {
	PutSignatureRecord(ctx context.Context, lock api.LockHandle, tenant, trackingID string, rec api.SignatureRecord) error
}

// Renderer draws field values onto document pages.
type Renderer struct {
	fonts   *Registry
	records RecordStore
	obs     api.TrackingObserver
	clock   api.Clock
}

// New creates a Renderer. A nil registry gets an empty one (everything
// renders in the built-in font); obs and clock default to no-op and
// system clock.
func New(fonts *Registry, records RecordStore, obs api.TrackingObserver, clock api.Clock) *Renderer {
	if fonts == nil {
		fonts = NewRegistry()
	}
	if obs == nil {
		obs = api.NoopObserver{}
	}
	if clock == nil {
		clock = api.SystemClock{}
	}
	return &Renderer{fonts: fonts, records: records, obs: obs, clock: clock}
}

// Compose renders every signed field of the tracking onto the source
// document and returns the composed bytes. Geometry is scaled from the
// given UI dimensions to each page's actual size. A tracking id stamp
// is written into the bottom-right margin of every page.
func (r *Renderer) Compose(ctx context.Context, lock api.LockHandle, tenant string, src []byte, t *api.Tracking, uiW, uiH float64) ([]byte, error) {
	reader, err := pdfr.NewReader(bytes.NewReader(src), int64(len(src)))
	if err != nil {
		return nil, fmt.Errorf("read source pdf: %w", err)
	}
	pageCount := reader.NumPage()
	if pageCount == 0 {
		return nil, fmt.Errorf("source pdf has no pages")
	}

	firstW, firstH := pageSize(reader.Page(1))

	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{Unit: gopdf.UnitPT, PageSize: gopdf.Rect{W: firstW, H: firstH}})
	if err := pdf.AddTTFFontData(FallbackFont, r.fonts.FallbackTTF()); err != nil {
		return nil, fmt.Errorf("register fallback font: %w", err)
	}

	c := &composer{
		Renderer:   r,
		pdf:        pdf,
		registered: map[string]bool{FallbackFont: true},
	}

	for page := 1; page <= pageCount; page++ {
		w, h := pageSize(reader.Page(page))

		var rs io.ReadSeeker = bytes.NewReader(src)
		tpl := pdf.ImportPageStream(&rs, page, "/MediaBox")
		pdf.AddPageWithOption(gopdf.PageOption{PageSize: &gopdf.Rect{W: w, H: h}})
		pdf.UseImportedTemplate(tpl, 0, 0, w, h)

		for i := range t.Fields {
			f := &t.Fields[i]
			if f.Page != page || !f.Signed || f.Value == "" {
				continue
			}
			geom := TransformCoordinates(*f, w, h, uiW, uiH)
			if err := c.insertField(ctx, lock, tenant, t, f, geom); err != nil {
				return nil, err
			}
		}

		if err := c.stamp(t.TrackingID, w, h); err != nil {
			return nil, err
		}
	}

	return pdf.GetBytesPdf(), nil
}

// composer carries per-document state: a gopdf instance only allows
// registering each font name once.
type composer struct {
	*Renderer
	pdf        *gopdf.GoPdf
	registered map[string]bool
}

// insertField dispatches on field type. Cosmetic problems (unknown
// type, bad payload) are observed and skipped; only store and PDF
// mutation failures propagate.
func (c *composer) insertField(ctx context.Context, lock api.LockHandle, tenant string, t *api.Tracking, f *api.Field, geom Rect) error {
	switch f.Type {
	case api.FieldText, api.FieldEmail, api.FieldNumber,
		api.FieldDate, api.FieldInitial, api.FieldDropdown,
		api.FieldSelect, api.FieldRadio:
		return c.drawText(f, geom)

	case api.FieldTextarea:
		return c.drawTextarea(f, geom)

	case api.FieldSignature:
		return c.drawSignature(ctx, lock, tenant, t, f, geom)

	case api.FieldCheckbox:
		return c.drawImage(ctx, t, f, checkboxRect(geom))

	case api.FieldAttach:
		return c.drawImage(ctx, t, f, geom)

	default:
		c.obs.OnRenderSkip(ctx, t.TrackingID, f.ID, "unknown field type "+string(f.Type))
		return nil
	}
}

func (c *composer) setFont(f *api.Field) (float64, error) {
	name, data, _ := c.fonts.Resolve(f.Font)
	if !c.registered[name] {
		if err := c.pdf.AddTTFFontData(name, data); err != nil {
			// Broken TTF file: fall back rather than fail the page.
			name = FallbackFont
		} else {
			c.registered[name] = true
		}
	}

	size := f.FontSize
	if size <= 0 {
		size = defaultFontSize
	}
	return size, c.pdf.SetFont(name, "", size)
}

func (c *composer) drawText(f *api.Field, geom Rect) error {
	if _, err := c.setFont(f); err != nil {
		return err
	}
	c.pdf.SetXY(geom.X, geom.Y)
	return c.pdf.Cell(nil, f.Value)
}

func (c *composer) drawTextarea(f *api.Field, geom Rect) error {
	size, err := c.setFont(f)
	if err != nil {
		return err
	}

	lineHeight := size * lineSpacing
	maxLines := int(geom.H / lineHeight)
	measure := func(s string) float64 {
		w, merr := c.pdf.MeasureTextWidth(s)
		if merr != nil {
			return 0
		}
		return w
	}

	for i, line := range wrapLines(measure, f.Value, geom.W, maxLines) {
		c.pdf.SetXY(geom.X, geom.Y+float64(i)*lineHeight)
		if err := c.pdf.Cell(nil, line); err != nil {
			return err
		}
	}
	return nil
}

func (c *composer) drawSignature(ctx context.Context, lock api.LockHandle, tenant string, t *api.Tracking, f *api.Field, geom Rect) error {
	var artifact []byte

	switch f.Style {
	case api.StyleTyped:
		_, ttf, _ := c.fonts.Resolve(f.Font)
		png, err := renderTypedSignature(f.Value, ttf, int(geom.W)*2, int(geom.H)*2)
		if err != nil {
			c.obs.OnRenderSkip(ctx, t.TrackingID, f.ID, "typed signature render: "+err.Error())
			return nil
		}
		artifact = png

	default: // drawn is also the historical default for untagged records
		png, err := decodeImagePayload(f.Value)
		if err != nil {
			c.obs.OnRenderSkip(ctx, t.TrackingID, f.ID, "signature payload: "+err.Error())
			return nil
		}
		artifact = png
	}

	if err := c.placeImage(artifact, geom); err != nil {
		return err
	}

	// The signature record is canonical input for the completion
	// certificate; its write must not be skippable.
	style := f.Style
	if style == "" {
		style = api.StyleDrawn
	}
	return c.records.PutSignatureRecord(ctx, lock, tenant, t.TrackingID, api.SignatureRecord{
		PartyID:   f.PartyID,
		Style:     style,
		Artifact:  artifact,
		CreatedAt: c.clock.Now(),
	})
}

func (c *composer) drawImage(ctx context.Context, t *api.Tracking, f *api.Field, geom Rect) error {
	png, err := decodeImagePayload(f.Value)
	if err != nil {
		c.obs.OnRenderSkip(ctx, t.TrackingID, f.ID, "image payload: "+err.Error())
		return nil
	}
	return c.placeImage(png, geom)
}

func (c *composer) placeImage(png []byte, geom Rect) error {
	holder, err := gopdf.ImageHolderByBytes(png)
	if err != nil {
		return err
	}
	return c.pdf.ImageByHolder(holder, geom.X, geom.Y, &gopdf.Rect{W: geom.W, H: geom.H})
}

// stamp writes the tracking identifier into the bottom-right margin
// for provenance.
func (c *composer) stamp(trackingID string, pageW, pageH float64) error {
	if err := c.pdf.SetFont(FallbackFont, "", stampFontSize); err != nil {
		return err
	}
	c.pdf.SetTextColor(128, 128, 128)
	defer c.pdf.SetTextColor(0, 0, 0)

	text := "Tracking ID: " + trackingID
	w, err := c.pdf.MeasureTextWidth(text)
	if err != nil {
		return err
	}
	c.pdf.SetXY(pageW-w-stampMargin, pageH-stampMargin)
	return c.pdf.Cell(nil, text)
}

// checkboxRect shrinks a checkbox to a fixed small square centered in
// its target rect.
func checkboxRect(geom Rect) Rect {
	return Rect{
		X: geom.X + (geom.W-checkboxSide)/2,
		Y: geom.Y + (geom.H-checkboxSide)/2,
		W: checkboxSide,
		H: checkboxSide,
	}
}

// pageSize reads a page's MediaBox, walking up the page tree for
// inherited boxes. Sizes default to A4 when absent.
func pageSize(p pdfr.Page) (w, h float64) {
	v := p.V
	for v.Kind() == pdfr.Dict {
		if mb := v.Key("MediaBox"); mb.Kind() == pdfr.Array && mb.Len() == 4 {
			llx, lly := mb.Index(0).Float64(), mb.Index(1).Float64()
			urx, ury := mb.Index(2).Float64(), mb.Index(3).Float64()
			return urx - llx, ury - lly
		}
		v = v.Key("Parent")
	}
	return 595.28, 841.89
}
