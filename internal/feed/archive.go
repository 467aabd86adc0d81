package feed

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"gtfs-live/internal/gtfs"
)

var (
	// ErrEntityMissing is returned when the archive has no file for an entity.
	ErrEntityMissing = errors.New("entity file not in archive")
	// ErrUnreadableFile marks an entity file that cannot be opened or has no
	// readable header. Nothing of it has been passed on when it is returned.
	ErrUnreadableFile = errors.New("unreadable entity file")
)

// DefaultBatchSize bounds how many rows are held in memory per batch.
const DefaultBatchSize = 500_000

// Archive is an opened GTFS zip. Entity files are streamed, never loaded
// whole.
type Archive struct {
	zr    *zip.ReadCloser
	files map[gtfs.EntityType]*zip.File
}

// OpenArchive opens a zip and indexes its entity files. Members may sit in a
// subdirectory and use a .txt or .csv extension.
func OpenArchive(path string) (*Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	a := &Archive{zr: zr, files: make(map[gtfs.EntityType]*zip.File)}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		e, ok := gtfs.EntityFromFile(f.Name)
		if !ok {
			continue
		}
		if _, seen := a.files[e]; !seen {
			a.files[e] = f
		}
	}
	return a, nil
}

func (a *Archive) Close() error { return a.zr.Close() }

// Has reports whether the archive contains a file for e.
func (a *Archive) Has(e gtfs.EntityType) bool {
	_, ok := a.files[e]
	return ok
}

// Stream reads the entity file and calls fn with batches of at most size
// rows. The slice passed to fn is reused between calls. It returns the number
// of rows read.
func (a *Archive) Stream(e gtfs.EntityType, size int, fn func(rows []gtfs.Row) error) (int, error) {
	f, ok := a.files[e]
	if !ok {
		return 0, fmt.Errorf("%s: %w", e, ErrEntityMissing)
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %w", ErrUnreadableFile, f.Name, err)
	}
	defer rc.Close()

	return streamCSV(rc, size, fn)
}

func streamCSV(r io.Reader, size int, fn func(rows []gtfs.Row) error) (int, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	names, err := reader.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read header: %w", ErrUnreadableFile, err)
	}
	if len(names) > 0 {
		names[0] = strings.TrimPrefix(names[0], "\xef\xbb\xbf")
	}
	header := gtfs.NewHeader(names)

	batch := make([]gtfs.Row, 0, min(size, 4096))
	total := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, fmt.Errorf("read record: %w", err)
		}
		if isBlank(record) {
			continue
		}
		line, _ := reader.FieldPos(0)
		batch = append(batch, header.Row(record, line))
		total++
		if len(batch) == size {
			if err := fn(batch); err != nil {
				return total, err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := fn(batch); err != nil {
			return total, err
		}
	}
	return total, nil
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
