// Package tilemath converts between geographic coordinates, slippy-map tile
// indices and Web-Mercator tile bounds.
package tilemath

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
)

const (
	TileSize = 256
	MaxZoom  = 24

	// MaxLatitude is the latitude where the Web-Mercator square ends.
	MaxLatitude = 85.05112877980659
)

// LonLatToTile returns the tile containing the point at zoom z. Latitudes
// beyond the Web-Mercator limit are clamped to the edge rows.
func LonLatToTile(lon, lat float64, z int) (x, y int) {
	lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
	t := maptile.At(orb.Point{lon, lat}, maptile.Zoom(z))

	n := 1 << uint(z)
	return clamp(int(t.X), n), clamp(int(t.Y), n)
}

// TileCenter returns the lon/lat of the tile center.
func TileCenter(x, y, z int) (lon, lat float64) {
	c := tile(x, y, z).Center()
	return c.Lon(), c.Lat()
}

// TileBounds returns the lon/lat bound of the tile.
func TileBounds(x, y, z int) orb.Bound {
	return tile(x, y, z).Bound()
}

// TileBoundsMeters returns the tile extent in EPSG:3857 meters.
func TileBoundsMeters(x, y, z int) (minX, minY, maxX, maxY float64) {
	b := TileBounds(x, y, z)
	lo := project.WGS84.ToMercator(b.Min)
	hi := project.WGS84.ToMercator(b.Max)
	return lo.X(), lo.Y(), hi.X(), hi.Y()
}

// LonLatToMeters is the forward spherical mercator. Latitudes are clamped
// to the Web-Mercator square.
func LonLatToMeters(lon, lat float64) (mx, my float64) {
	lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
	p := project.WGS84.ToMercator(orb.Point{lon, lat})
	return p.X(), p.Y()
}

// MetersToLonLat is the inverse spherical mercator.
func MetersToLonLat(mx, my float64) (lon, lat float64) {
	p := project.Mercator.ToWGS84(orb.Point{mx, my})
	return p.Lon(), p.Lat()
}

// FlippedY converts between XYZ (north origin) and TMS (south origin) rows.
func FlippedY(y, z int) int {
	return (1 << uint(z)) - 1 - y
}

// Valid reports whether (z, x, y) addresses a tile of the pyramid.
func Valid(z, x, y int) bool {
	if z < 0 || z > MaxZoom {
		return false
	}
	n := 1 << uint(z)
	return x >= 0 && x < n && y >= 0 && y < n
}

// Distance is the great-circle distance in meters.
func Distance(lon1, lat1, lon2, lat2 float64) float64 {
	return geo.DistanceHaversine(orb.Point{lon1, lat1}, orb.Point{lon2, lat2})
}

func tile(x, y, z int) maptile.Tile {
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z))
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
