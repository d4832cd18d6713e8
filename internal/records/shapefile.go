package records

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
)

// Sidecar extensions written for every collection, primary file first.
var Extensions = []string{"shp", "shx", "dbf", "prj", "cpg"}

const (
	fieldPhoto       = "foto"
	fieldCategory    = "tipo"
	fieldDescription = "didascalia"
	fieldTimestamp   = "data"
	fieldSize        = 254
)

// WGS84 as an ESRI projection string.
const wgs84PRJ = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

var ErrMissingCollection = errors.New("record collection does not exist")

// Shapefile is a point shapefile collection in EPSG:4326. Every append reads
// the whole collection, adds the report and rewrites the full file set.
// Rewrites are serialized and land through a rename so readers never see a
// half-written set.
type Shapefile struct {
	mu   sync.Mutex
	base string
}

// NewShapefile uses base (a path without extension) for the file set.
func NewShapefile(base string) (*Shapefile, error) {
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return nil, fmt.Errorf("create collection dir: %w", err)
	}
	return &Shapefile{base: base}, nil
}

// Files lists the sidecar paths, whether or not they exist yet.
func (s *Shapefile) Files() []string {
	files := make([]string, 0, len(Extensions))
	for _, ext := range Extensions {
		files = append(files, s.base+"."+ext)
	}
	return files
}

func (s *Shapefile) Append(ctx context.Context, r Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := readAll(s.base)
	if err != nil && !errors.Is(err, ErrMissingCollection) {
		return fmt.Errorf("read collection: %w", err)
	}
	all := append(existing, r)

	tmp := fmt.Sprintf("%s.tmp%d", s.base, time.Now().UnixNano())
	if err := writeAll(tmp, all); err != nil {
		removeSet(tmp)
		return fmt.Errorf("write collection: %w", err)
	}
	if err := replaceSet(tmp, s.base); err != nil {
		removeSet(tmp)
		return err
	}
	return nil
}

// rename is swapped in tests to fail part way through a set.
var rename = os.Rename

// replaceSet moves the current set aside, installs the new one and drops the
// old. Any failure puts the previous set back.
func replaceSet(tmp, base string) error {
	bak := tmp + ".bak"
	var moved, placed []string
	rollback := func() {
		for _, ext := range placed {
			_ = os.Remove(base + "." + ext)
		}
		for _, ext := range moved {
			_ = os.Rename(bak+"."+ext, base+"."+ext)
		}
	}
	for _, ext := range Extensions {
		err := rename(base+"."+ext, bak+"."+ext)
		if err == nil {
			moved = append(moved, ext)
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			rollback()
			return fmt.Errorf("set aside %s: %w", ext, err)
		}
	}
	for _, ext := range Extensions {
		if err := rename(tmp+"."+ext, base+"."+ext); err != nil {
			rollback()
			return fmt.Errorf("replace %s: %w", ext, err)
		}
		placed = append(placed, ext)
	}
	removeSet(bak)
	return nil
}

// List reads every report in the collection.
func (s *Shapefile) List(ctx context.Context) ([]Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := readAll(s.base)
	if errors.Is(err, ErrMissingCollection) {
		return nil, nil
	}
	return out, err
}

func readAll(base string) ([]Report, error) {
	if _, err := os.Stat(base + ".shp"); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrMissingCollection
		}
		return nil, err
	}
	// The reader ignores a missing attribute table and yields blank rows.
	if _, err := os.Stat(base + ".dbf"); err != nil {
		return nil, fmt.Errorf("attribute table: %w", err)
	}
	reader, err := shp.Open(base + ".shp")
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	// Columns are matched by name; unknown columns are dropped on rewrite.
	index := map[string]int{}
	for i, f := range reader.Fields() {
		index[f.String()] = i
	}
	attr := func(row int, name string) string {
		i, ok := index[name]
		if !ok {
			return ""
		}
		return strings.TrimRight(reader.ReadAttribute(row, i), "\x00 ")
	}

	var out []Report
	for reader.Next() {
		row, shape := reader.Shape()
		pt, ok := shape.(*shp.Point)
		if !ok {
			continue
		}
		out = append(out, Report{
			Photo:       attr(row, fieldPhoto),
			Category:    attr(row, fieldCategory),
			Description: attr(row, fieldDescription),
			Timestamp:   attr(row, fieldTimestamp),
			Longitude:   pt.X,
			Latitude:    pt.Y,
		})
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func writeAll(base string, reports []Report) error {
	writer, err := shp.Create(base+".shp", shp.POINT)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			writer.Close()
		}
	}()

	fields := []shp.Field{
		shp.StringField(fieldPhoto, fieldSize),
		shp.StringField(fieldCategory, fieldSize),
		shp.StringField(fieldDescription, fieldSize),
		shp.StringField(fieldTimestamp, fieldSize),
	}
	if err := writer.SetFields(fields); err != nil {
		return err
	}
	for _, r := range reports {
		row := int(writer.Write(&shp.Point{X: r.Longitude, Y: r.Latitude}))
		values := []string{r.Photo, r.Category, r.Description, r.Timestamp}
		for i, v := range values {
			if err := writer.WriteAttribute(row, i, pad(v, fieldSize)); err != nil {
				return fmt.Errorf("row %d field %d: %w", row, i, err)
			}
		}
	}
	writer.Close()
	closed = true
	// go-shp names the attribute table basename+"dbf", without the dot.
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return err
	}

	if err := os.WriteFile(base+".prj", []byte(wgs84PRJ), 0o644); err != nil {
		return err
	}
	return os.WriteFile(base+".cpg", []byte("UTF-8"), 0o644)
}

func removeSet(base string) {
	for _, ext := range Extensions {
		_ = os.Remove(base + "." + ext)
	}
	_ = os.Remove(base + "dbf")
}

// pad fits s into a DBF character field: cut to n bytes on a rune boundary,
// then space filled.
func pad(s string, n int) string {
	s = truncate(s, n)
	return s + strings.Repeat(" ", n-len(s))
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
