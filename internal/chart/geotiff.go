package chart

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// TIFF and GeoTIFF tags this reader understands.
const (
	tagImageWidth        = 256
	tagImageLength       = 257
	tagModelPixelScale   = 33550
	tagModelTiepoint     = 33922
	tagModelTransform    = 34264
	tagGeoKeyDirectory   = 34735
	tagGeoDoubleParams   = 34736
	tagGeoASCIIParams    = 34737
	tiffMagic            = 42
	bigTIFFMagic         = 43
	ifdEntrySize         = 12
	maxTagPayloadEntries = 1 << 20
)

// GeoKey ids (GeoTIFF 1.0 section 6.2).
const (
	keyModelType          = 1024
	keyRasterType         = 1025
	keyGeographicType     = 2048
	keyGeogAngularUnits   = 2054
	keyEllipsoid          = 2056
	keySemiMajorAxis      = 2057
	keySemiMinorAxis      = 2058
	keyInvFlattening      = 2059
	keyProjectedCSType    = 3072
	keyProjCoordTrans     = 3075
	keyProjLinearUnits    = 3076
	keyStdParallel1       = 3078
	keyStdParallel2       = 3079
	keyNatOriginLong      = 3080
	keyNatOriginLat       = 3081
	keyFalseEasting       = 3082
	keyFalseNorthing      = 3083
	keyFalseOriginLong    = 3084
	keyFalseOriginLat     = 3085
	keyFalseOriginEasting = 3086
	keyFalseOriginNorth   = 3087
	keyCenterLong         = 3088
	keyScaleAtNatOrigin   = 3092
)

const (
	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsPoint  = 2
	userDefined         = 32767

	ctLambertConfConic2SP = 8
	ctLambertConfConic1SP = 9

	unitMeter         = 9001
	unitFoot          = 9002
	unitUSSurveyFoot  = 9003
	unitRadian        = 9101
	ellipsoidGRS80    = 7019
	ellipsoidWGS84    = 7030
	ellipsoidClarke66 = 7008
	gcsNAD27          = 4267
	gcsNAD83          = 4269
	gcsWGS84          = 4326
)

var (
	ErrNotTIFF          = errors.New("not a tiff file")
	ErrBigTIFF          = errors.New("bigtiff is not supported")
	ErrNotGeoreferenced = errors.New("tiff carries no georeferencing tags")
	ErrUnsupportedCRS   = errors.New("unsupported coordinate reference system")
)

type geoTags struct {
	width, height int
	pixelScale    []float64
	tiepoints     []float64
	transform     []float64

	shortKeys  map[uint16]uint16
	doubleKeys map[uint16]float64
}

type ifdEntry struct {
	tag, typ uint16
	count    uint32
	raw      [4]byte
}

var typeSizes = map[uint16]uint32{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

// readGeoTags walks the first IFD and collects the georeferencing tags.
func readGeoTags(r io.ReaderAt) (*geoTags, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotTIFF, err)
	}

	var bo binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, ErrNotTIFF
	}

	switch bo.Uint16(hdr[2:4]) {
	case tiffMagic:
	case bigTIFFMagic:
		return nil, ErrBigTIFF
	default:
		return nil, ErrNotTIFF
	}

	ifdOffset := int64(bo.Uint32(hdr[4:8]))

	var cnt [2]byte
	if _, err := r.ReadAt(cnt[:], ifdOffset); err != nil {
		return nil, fmt.Errorf("failed to read ifd: %w", err)
	}
	n := int(bo.Uint16(cnt[:]))

	buf := make([]byte, n*ifdEntrySize)
	if _, err := r.ReadAt(buf, ifdOffset+2); err != nil {
		return nil, fmt.Errorf("failed to read ifd entries: %w", err)
	}

	g := &geoTags{}
	var keyDir []uint16
	var doubles []float64

	for i := 0; i < n; i++ {
		b := buf[i*ifdEntrySize : (i+1)*ifdEntrySize]
		e := ifdEntry{
			tag:   bo.Uint16(b[0:2]),
			typ:   bo.Uint16(b[2:4]),
			count: bo.Uint32(b[4:8]),
		}
		copy(e.raw[:], b[8:12])

		var err error
		switch e.tag {
		case tagImageWidth, tagImageLength:
			var v []uint64
			if v, err = readUints(r, bo, e); err == nil && len(v) > 0 {
				if e.tag == tagImageWidth {
					g.width = int(v[0])
				} else {
					g.height = int(v[0])
				}
			}
		case tagModelPixelScale:
			g.pixelScale, err = readDoubles(r, bo, e)
		case tagModelTiepoint:
			g.tiepoints, err = readDoubles(r, bo, e)
		case tagModelTransform:
			g.transform, err = readDoubles(r, bo, e)
		case tagGeoDoubleParams:
			doubles, err = readDoubles(r, bo, e)
		case tagGeoKeyDirectory:
			var v []uint64
			if v, err = readUints(r, bo, e); err == nil {
				keyDir = make([]uint16, len(v))
				for j := range v {
					keyDir[j] = uint16(v[j])
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tag %d: %w", e.tag, err)
		}
	}

	g.shortKeys = make(map[uint16]uint16)
	g.doubleKeys = make(map[uint16]float64)

	// header: version, revision, minor revision, number of keys
	if len(keyDir) >= 4 {
		numKeys := int(keyDir[3])
		for k := 0; k < numKeys && 4+k*4+3 < len(keyDir); k++ {
			id, loc, count, off := keyDir[4+k*4], keyDir[4+k*4+1], keyDir[4+k*4+2], keyDir[4+k*4+3]
			switch loc {
			case 0:
				g.shortKeys[id] = off
			case tagGeoDoubleParams:
				if count > 0 && int(off) < len(doubles) {
					g.doubleKeys[id] = doubles[off]
				}
			}
		}
	}

	return g, nil
}

func entryPayload(r io.ReaderAt, bo binary.ByteOrder, e ifdEntry) ([]byte, uint32, error) {
	size, ok := typeSizes[e.typ]
	if !ok {
		return nil, 0, fmt.Errorf("unknown field type %d", e.typ)
	}
	if e.count > maxTagPayloadEntries {
		return nil, 0, fmt.Errorf("tag payload too large: %d entries", e.count)
	}

	total := size * e.count
	if total <= 4 {
		return e.raw[:total], size, nil
	}

	data := make([]byte, total)
	if _, err := r.ReadAt(data, int64(bo.Uint32(e.raw[:]))); err != nil {
		return nil, 0, err
	}
	return data, size, nil
}

func readUints(r io.ReaderAt, bo binary.ByteOrder, e ifdEntry) ([]uint64, error) {
	data, size, err := entryPayload(r, bo, e)
	if err != nil {
		return nil, err
	}

	out := make([]uint64, e.count)
	for i := range out {
		b := data[uint32(i)*size:]
		switch size {
		case 1:
			out[i] = uint64(b[0])
		case 2:
			out[i] = uint64(bo.Uint16(b))
		case 4:
			out[i] = uint64(bo.Uint32(b))
		default:
			return nil, fmt.Errorf("field type %d is not an integer", e.typ)
		}
	}
	return out, nil
}

func readDoubles(r io.ReaderAt, bo binary.ByteOrder, e ifdEntry) ([]float64, error) {
	if e.typ != 12 {
		return nil, fmt.Errorf("expected DOUBLE, got field type %d", e.typ)
	}
	data, _, err := entryPayload(r, bo, e)
	if err != nil {
		return nil, err
	}

	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(bo.Uint64(data[i*8:]))
	}
	return out, nil
}

// bounds derives the native extent of the raster from the tiepoint and
// pixel scale tags, or from an axis-aligned model transformation.
func (g *geoTags) bounds() (Bounds, error) {
	if g.width <= 0 || g.height <= 0 {
		return Bounds{}, fmt.Errorf("invalid raster dimensions %dx%d", g.width, g.height)
	}

	var minX, maxY, sx, sy float64
	switch {
	case len(g.pixelScale) >= 2 && len(g.tiepoints) >= 6:
		sx, sy = g.pixelScale[0], g.pixelScale[1]
		minX = g.tiepoints[3] - g.tiepoints[0]*sx
		maxY = g.tiepoints[4] + g.tiepoints[1]*sy
	case len(g.transform) >= 16:
		if g.transform[1] != 0 || g.transform[4] != 0 {
			return Bounds{}, fmt.Errorf("%w: rotated model transformation", ErrUnsupportedCRS)
		}
		sx, sy = g.transform[0], -g.transform[5]
		minX, maxY = g.transform[3], g.transform[7]
	default:
		return Bounds{}, ErrNotGeoreferenced
	}

	if sx <= 0 || sy <= 0 {
		return Bounds{}, fmt.Errorf("invalid pixel scale %v x %v", sx, sy)
	}

	if g.shortKeys[keyRasterType] == rasterPixelIsPoint {
		minX -= sx / 2
		maxY += sy / 2
	}

	return Bounds{
		MinX: minX,
		MinY: maxY - float64(g.height)*sy,
		MaxX: minX + float64(g.width)*sx,
		MaxY: maxY,
	}, nil
}

// projection builds the chart projection from the GeoKey directory.
func (g *geoTags) projection() (Projection, error) {
	switch g.shortKeys[keyModelType] {
	case modelTypeGeographic:
		return Geographic{}, nil
	case modelTypeProjected:
	default:
		return nil, fmt.Errorf("%w: model type %d", ErrUnsupportedCRS, g.shortKeys[keyModelType])
	}

	switch pcs := g.shortKeys[keyProjectedCSType]; pcs {
	case 3857, 3785:
		return WebMercator{}, nil
	case 0, userDefined:
	default:
		return nil, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, pcs)
	}

	angle := func(ids ...uint16) float64 {
		for _, id := range ids {
			if v, ok := g.doubleKeys[id]; ok {
				if g.shortKeys[keyGeogAngularUnits] == unitRadian {
					return v / deg
				}
				return v
			}
		}
		return 0
	}
	linear := func(ids ...uint16) float64 {
		for _, id := range ids {
			if v, ok := g.doubleKeys[id]; ok {
				return v
			}
		}
		return 0
	}

	ell := g.ellipsoid()
	units := g.unitsPerMeter()

	switch ct := g.shortKeys[keyProjCoordTrans]; ct {
	case ctLambertConfConic2SP:
		return NewLambertConformalConic2SP(
			angle(keyStdParallel1),
			angle(keyStdParallel2),
			angle(keyFalseOriginLat, keyNatOriginLat),
			angle(keyFalseOriginLong, keyNatOriginLong, keyCenterLong),
			linear(keyFalseOriginEasting, keyFalseEasting),
			linear(keyFalseOriginNorth, keyFalseNorthing),
			ell, units,
		)
	case ctLambertConfConic1SP:
		lat0 := angle(keyNatOriginLat, keyStdParallel1)
		k0 := linear(keyScaleAtNatOrigin)
		if k0 == 0 {
			k0 = 1
		}
		return NewLambertConformalConic1SP(
			lat0,
			angle(keyNatOriginLong, keyCenterLong, keyFalseOriginLong),
			k0,
			linear(keyFalseEasting, keyFalseOriginEasting),
			linear(keyFalseNorthing, keyFalseOriginNorth),
			ell, units,
		)
	default:
		return nil, fmt.Errorf("%w: coordinate transformation %d", ErrUnsupportedCRS, ct)
	}
}

func (g *geoTags) ellipsoid() Ellipsoid {
	if a, ok := g.doubleKeys[keySemiMajorAxis]; ok && a > 0 {
		if invF, ok := g.doubleKeys[keyInvFlattening]; ok {
			return Ellipsoid{A: a, InvF: invF}
		}
		if b, ok := g.doubleKeys[keySemiMinorAxis]; ok && b > 0 && b < a {
			return Ellipsoid{A: a, InvF: a / (a - b)}
		}
		return Ellipsoid{A: a}
	}

	switch g.shortKeys[keyEllipsoid] {
	case ellipsoidWGS84:
		return WGS84
	case ellipsoidClarke66:
		return Clarke1866
	case ellipsoidGRS80:
		return GRS80
	}

	switch g.shortKeys[keyGeographicType] {
	case gcsWGS84:
		return WGS84
	case gcsNAD27:
		return Clarke1866
	default:
		return GRS80
	}
}

func (g *geoTags) unitsPerMeter() float64 {
	switch g.shortKeys[keyProjLinearUnits] {
	case unitFoot:
		return 1 / 0.3048
	case unitUSSurveyFoot:
		return 3937.0 / 1200.0
	default:
		return 1
	}
}
