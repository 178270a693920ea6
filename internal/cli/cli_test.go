package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilekit/tilekit/tile"
)

func TestParseGeoBBox(t *testing.T) {
	t.Parallel()

	p := tile.FullPyramid(0, 4)

	bbox, err := parseGeoBBox("-180,-85,180,85", p)
	require.NoError(t, err)
	assert.Equal(t, tile.FullBBox(4), bbox)

	bbox, err = parseGeoBBox(" -10.5, -20.25 , 10.5 , 20.25 ", p)
	require.NoError(t, err)
	assert.Equal(t, uint8(4), bbox.Z)
	assert.False(t, bbox.IsEmpty())

	for _, bad := range []string{
		"",
		"1,2,3",
		"1,2,3,4,5",
		"a,b,c,d",
		"10,0,-10,5",   // lon out of order
		"0,50,5,40",    // lat out of order
		"-200,0,0,10",  // lon out of range
		"0,-100,10,10", // lat out of range
	} {
		_, err := parseGeoBBox(bad, p)
		assert.Error(t, err, bad)
	}

	_, err = parseGeoBBox("0,0,1,1", tile.NewPyramid())
	assert.Error(t, err)
}

func TestMountName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "osm", mountName("/data/osm.versatiles"))
	assert.Equal(t, "world", mountName("world.mbtiles"))
	assert.Equal(t, "tiles", mountName("./tiles.tar"))
	assert.Equal(t, "planet", mountName("https://example.com/planet.versatiles"))
	assert.Equal(t, "my-dir", mountName("/srv/my-dir/"))
	assert.Equal(t, "a-b", mountName("a b.versatiles"))
}
