package feed

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-live/internal/gtfs"
)

// writeZip builds a zip archive from name -> content pairs.
func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestArchive_StreamBatches(t *testing.T) {
	path := writeZip(t, map[string]string{
		"gtfs/stops.txt": "\xef\xbb\xbfstop_id,stop_name,stop_lat,stop_lon\n" +
			"1,Centrum,52.23,21.01\n" +
			"2,\"Plac, Zawiszy\",52.22,20.99\n" +
			"\n" +
			"3,Reduta,52.21,20.98\n",
		"routes.csv": "route_id,route_type\nA1,2\n",
		"README.md":  "ignored",
	})
	a, err := OpenArchive(path)
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.Has(gtfs.Stops))
	assert.True(t, a.Has(gtfs.Routes))
	assert.False(t, a.Has(gtfs.Transfers))

	var sizes []int
	var ids []string
	n, err := a.Stream(gtfs.Stops, 2, func(rows []gtfs.Row) error {
		sizes = append(sizes, len(rows))
		for _, r := range rows {
			id, _ := r.Get("stop_id")
			ids = append(ids, id)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{2, 1}, sizes)
	assert.Equal(t, []string{"1", "2", "3"}, ids, "BOM stripped from first header")
}

func TestArchive_RowLineNumbers(t *testing.T) {
	path := writeZip(t, map[string]string{
		"trips.txt": "route_id,service_id,trip_id\nA,WD,1\nA,WD,2\n",
	})
	a, err := OpenArchive(path)
	require.NoError(t, err)
	defer a.Close()

	var lines []int
	_, err = a.Stream(gtfs.Trips, 10, func(rows []gtfs.Row) error {
		for _, r := range rows {
			lines = append(lines, r.Line)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, lines)
}

// rawMember is stored as is, with whatever method it claims.
type rawMember struct {
	method uint16
	data   []byte
}

func writeRawZip(t *testing.T, files map[string]rawMember) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, m := range files {
		w, err := zw.CreateRaw(&zip.FileHeader{
			Name:               name,
			Method:             m.method,
			CompressedSize64:   uint64(len(m.data)),
			UncompressedSize64: uint64(len(m.data)),
		})
		require.NoError(t, err)
		_, err = w.Write(m.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestArchive_UnreadableFile(t *testing.T) {
	path := writeRawZip(t, map[string]rawMember{
		"transfers.txt": {method: 99, data: []byte("from_stop_id,to_stop_id,transfer_type\n")},
		"shapes.txt":    {method: zip.Deflate, data: []byte{0xff, 0xff, 0xff, 0xff}},
		"stops.txt":     {method: zip.Store, data: []byte("stop_id\n1\n")},
	})
	a, err := OpenArchive(path)
	require.NoError(t, err)
	defer a.Close()

	for _, e := range []gtfs.EntityType{gtfs.Transfers, gtfs.Shapes} {
		calls := 0
		_, err = a.Stream(e, 10, func([]gtfs.Row) error {
			calls++
			return nil
		})
		assert.ErrorIs(t, err, ErrUnreadableFile, e.String())
		assert.Zero(t, calls, e.String())
	}

	n, err := a.Stream(gtfs.Stops, 10, func([]gtfs.Row) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestArchive_MissingEntity(t *testing.T) {
	path := writeZip(t, map[string]string{"stops.txt": "stop_id\n1\n"})
	a, err := OpenArchive(path)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Stream(gtfs.Frequencies, 10, func([]gtfs.Row) error { return nil })
	assert.True(t, errors.Is(err, ErrEntityMissing))
}

func TestArchive_CallbackErrorStops(t *testing.T) {
	path := writeZip(t, map[string]string{"stops.txt": "stop_id\n1\n2\n3\n"})
	a, err := OpenArchive(path)
	require.NoError(t, err)
	defer a.Close()

	boom := errors.New("boom")
	calls := 0
	_, err = a.Stream(gtfs.Stops, 1, func([]gtfs.Row) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestOpenArchive_NotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	_, err := OpenArchive(path)
	assert.Error(t, err)
}
