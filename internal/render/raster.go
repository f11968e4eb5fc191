package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"

	"github.com/haasonsaas/easel/internal/canvas"
)

// CanvasPNG rasterizes the canvas at its native dimensions.
func CanvasPNG(c canvas.Canvas) ([]byte, error) {
	return renderPNG(c, c.Width, c.Height)
}

// Thumbnail rasterizes the canvas scaled to fit within maxEdge on its
// longer side.
func Thumbnail(c canvas.Canvas, maxEdge int) ([]byte, error) {
	full, err := renderPNG(c, c.Width, c.Height)
	if err != nil {
		return nil, err
	}
	return scalePNG(full, maxEdge)
}

// OGImage renders the fixed 1200x630 social-share view: the canvas scaled
// to fit, centered on the paper background.
func OGImage(c canvas.Canvas) ([]byte, error) {
	const ogWidth, ogHeight = 1200, 630

	full, err := renderPNG(c, c.Width, c.Height)
	if err != nil {
		return nil, err
	}
	src, err := png.Decode(bytes.NewReader(full))
	if err != nil {
		return nil, fmt.Errorf("decoding canvas render: %w", err)
	}

	srcBounds := src.Bounds()
	scale := min(float64(ogWidth)/float64(srcBounds.Dx()), float64(ogHeight)/float64(srcBounds.Dy()))
	w := int(float64(srcBounds.Dx()) * scale)
	h := int(float64(srcBounds.Dy()) * scale)
	x := (ogWidth - w) / 2
	y := (ogHeight - h) / 2

	dst := image.NewRGBA(image.Rect(0, 0, ogWidth, ogHeight))
	fillBackground(dst)
	draw.BiLinear.Scale(dst, image.Rect(x, y, x+w, y+h), src, srcBounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encoding og image: %w", err)
	}
	return buf.Bytes(), nil
}

// renderPNG rasterizes the canvas SVG at the given pixel dimensions.
func renderPNG(c canvas.Canvas, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid render dimensions %dx%d", width, height)
	}

	doc := CanvasSVG(c, SVGOptions{})
	icon, err := oksvg.ReadIconStream(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parsing canvas svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(width, height, scanner), 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding canvas png: %w", err)
	}
	return buf.Bytes(), nil
}

// scalePNG scales an encoded PNG to fit within maxEdge, preserving aspect.
func scalePNG(data []byte, maxEdge int) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding render: %w", err)
	}
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxEdge && h <= maxEdge {
		return data, nil
	}

	var newW, newH int
	if w > h {
		newW = maxEdge
		newH = h * maxEdge / w
	} else {
		newH = maxEdge
		newW = w * maxEdge / h
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func fillBackground(img *image.RGBA) {
	// Paper tone matching the SVG background.
	const r, g, b = 0xfa, 0xf8, 0xf4
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = r
		img.Pix[i+1] = g
		img.Pix[i+2] = b
		img.Pix[i+3] = 0xff
	}
}
