package chart

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"math"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// testTIFF describes a little-endian, uncompressed, single strip GeoTIFF.
type testTIFF struct {
	width, height int
	pix           []uint8
	palette       []color.NRGBA // nil writes a gray image
	pixelScale    []float64
	tiepoint      []float64
	geoKeys       []uint16
	geoDoubles    []float64
}

type testEntry struct {
	tag, typ uint16
	count    uint32
	data     []byte
}

func shorts(v ...uint16) []byte {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(b[2*i:], x)
	}
	return b
}

func longs(v ...uint32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], x)
	}
	return b
}

func doubles(v ...float64) []byte {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return b
}

func writeTestTIFF(t *testing.T, path string, tt testTIFF) {
	t.Helper()

	const dataOffset = 8
	photometric := uint16(1)
	if tt.palette != nil {
		photometric = 3
	}

	entries := []testEntry{
		{256, 4, 1, longs(uint32(tt.width))},
		{257, 4, 1, longs(uint32(tt.height))},
		{258, 3, 1, shorts(8)},
		{259, 3, 1, shorts(1)},
		{262, 3, 1, shorts(photometric)},
		{273, 4, 1, longs(dataOffset)},
		{277, 3, 1, shorts(1)},
		{278, 4, 1, longs(uint32(tt.height))},
		{279, 4, 1, longs(uint32(len(tt.pix)))},
	}

	if tt.palette != nil {
		cm := make([]uint16, 3*256)
		for i := 0; i < 256 && i < len(tt.palette); i++ {
			c := tt.palette[i]
			cm[i] = uint16(c.R) * 257
			cm[256+i] = uint16(c.G) * 257
			cm[512+i] = uint16(c.B) * 257
		}
		entries = append(entries, testEntry{320, 3, uint32(len(cm)), shorts(cm...)})
	}
	if tt.pixelScale != nil {
		entries = append(entries, testEntry{tagModelPixelScale, 12, uint32(len(tt.pixelScale)), doubles(tt.pixelScale...)})
	}
	if tt.tiepoint != nil {
		entries = append(entries, testEntry{tagModelTiepoint, 12, uint32(len(tt.tiepoint)), doubles(tt.tiepoint...)})
	}
	if tt.geoKeys != nil {
		entries = append(entries, testEntry{tagGeoKeyDirectory, 3, uint32(len(tt.geoKeys)), shorts(tt.geoKeys...)})
	}
	if tt.geoDoubles != nil {
		entries = append(entries, testEntry{tagGeoDoubleParams, 12, uint32(len(tt.geoDoubles)), doubles(tt.geoDoubles...)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	var body bytes.Buffer
	body.Write(tt.pix)
	pad := func() {
		if (dataOffset+body.Len())%2 == 1 {
			body.WriteByte(0)
		}
	}
	pad()

	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.data) > 4 {
			offsets[i] = uint32(dataOffset + body.Len())
			body.Write(e.data)
			pad()
		}
	}

	ifdOffset := uint32(dataOffset + body.Len())

	var out bytes.Buffer
	out.WriteString("II")
	out.Write(shorts(42))
	out.Write(longs(ifdOffset))
	out.Write(body.Bytes())

	out.Write(shorts(uint16(len(entries))))
	for i, e := range entries {
		out.Write(shorts(e.tag, e.typ))
		out.Write(longs(e.count))
		if len(e.data) > 4 {
			out.Write(longs(offsets[i]))
		} else {
			var raw [4]byte
			copy(raw[:], e.data)
			out.Write(raw[:])
		}
	}
	out.Write(longs(0))

	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
}

// lccKeys is a user-defined LCC 2SP GeoKey directory; the double params are
// lat1, lat2, lon0, lat0, false easting, false northing.
func lccKeys() []uint16 {
	return []uint16{
		1, 1, 0, 12,
		keyModelType, 0, 1, modelTypeProjected,
		keyRasterType, 0, 1, 1,
		keyGeographicType, 0, 1, gcsNAD83,
		keyProjectedCSType, 0, 1, userDefined,
		keyProjCoordTrans, 0, 1, ctLambertConfConic2SP,
		keyProjLinearUnits, 0, 1, unitMeter,
		keyStdParallel1, tagGeoDoubleParams, 1, 0,
		keyStdParallel2, tagGeoDoubleParams, 1, 1,
		keyFalseOriginLong, tagGeoDoubleParams, 1, 2,
		keyFalseOriginLat, tagGeoDoubleParams, 1, 3,
		keyFalseOriginEasting, tagGeoDoubleParams, 1, 4,
		keyFalseOriginNorth, tagGeoDoubleParams, 1, 5,
	}
}
