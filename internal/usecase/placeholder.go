package usecase

import (
	"bytes"
	"image"
	"image/png"
	"time"

	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/tilemath"
)

const contentTypePNG = "image/png"

type TileSource string

const (
	SourceCache       TileSource = "cache"
	SourceUpstream    TileSource = "upstream"
	SourceRender      TileSource = "render"
	SourceEmpty       TileSource = "empty"
	SourcePlaceholder TileSource = "placeholder"
)

// TileResult is what a tile request is answered with.
type TileResult struct {
	Data        []byte
	ContentType string
	MaxAge      time.Duration
	Source      TileSource
}

var (
	// TransparentPNG is the 1x1 fully transparent tile served whenever no
	// image can be produced.
	TransparentPNG []byte

	// emptyTilePNG is a 256x256 fully transparent tile, byte-identical to a
	// render that sets no pixel.
	emptyTilePNG []byte
)

func init() {
	var err error
	TransparentPNG, err = encodePNG(image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	if err != nil {
		panic(err)
	}
	emptyTilePNG, err = encodePNG(newTileImage())
	if err != nil {
		panic(err)
	}
}

func newTileImage() *image.NRGBA {
	return image.NewNRGBA(image.Rect(0, 0, tilemath.TileSize, tilemath.TileSize))
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func placeholder(maxAge time.Duration) TileResult {
	return TileResult{
		Data:        TransparentPNG,
		ContentType: contentTypePNG,
		MaxAge:      maxAge,
		Source:      SourcePlaceholder,
	}
}
