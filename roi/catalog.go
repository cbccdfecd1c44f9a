package roi

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

var (
	// ErrCatalogUnavailable is returned when the catalog file cannot be opened.
	ErrCatalogUnavailable = errors.New("region catalog unavailable")
	// ErrCatalogMalformed is returned when the catalog cannot be parsed.
	ErrCatalogMalformed = errors.New("region catalog malformed")
)

// DefaultPolygonFields is the polygon field priority used when Options leaves it empty.
//
// Catalog producers disagree on the field name; "original_roi" holds the
// coordinates in full-frame pixels and is preferred over the centered
// variant.
var DefaultPolygonFields = []string{"original_roi", "img_center_roi", "roi"}

// Options controls how catalog entries are interpreted.
type Options struct {
	// PolygonFields lists the accepted polygon field names, highest priority first.
	PolygonFields []string `mapstructure:"polygon_fields"`
	// CameraField names the camera identifier field of an entry.
	CameraField string `mapstructure:"camera_field"`
	// MatchesField names the list of match records of an entry.
	MatchesField string `mapstructure:"matches_field"`
	// IDField names the region identifier field of a match record.
	IDField string `mapstructure:"id_field"`
}

// DefaultOptions returns the field names used by the site catalogs.
func DefaultOptions() Options {
	return Options{
		PolygonFields: append([]string(nil), DefaultPolygonFields...),
		CameraField:   "cctv_id",
		MatchesField:  "matches",
		IDField:       "parking_id",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if len(o.PolygonFields) == 0 {
		o.PolygonFields = d.PolygonFields
	}
	if o.CameraField == "" {
		o.CameraField = d.CameraField
	}
	if o.MatchesField == "" {
		o.MatchesField = d.MatchesField
	}
	if o.IDField == "" {
		o.IDField = d.IDField
	}
	return o
}

// MatchRecord is one candidate region description, kept as decoded.
type MatchRecord map[string]any

// Region extracts the region described by the record.
//
// The first polygon field present in the record is used; if it is not a
// numeric list or decodes to no points, the record yields nothing.
func (m MatchRecord) Region(opts Options) (Region, bool) {
	opts = opts.withDefaults()
	for _, field := range opts.PolygonFields {
		raw, ok := m[field]
		if !ok {
			continue
		}
		points, ok := DecodePolygon(raw)
		if !ok || len(points) == 0 {
			return Region{}, false
		}
		return Region{ID: ParseRegionID(m[opts.IDField]), Points: points}, true
	}
	return Region{}, false
}

// CameraEntry groups the match records of one device.
type CameraEntry struct {
	// Key is the top-level catalog key, usually the device network address.
	Key string
	// Fields holds the raw entry object.
	Fields map[string]any
}

// CameraID returns the camera identifier of the entry, or "" if absent.
func (e CameraEntry) CameraID(opts Options) string {
	opts = opts.withDefaults()
	id, ok := e.Fields[opts.CameraField].(string)
	if !ok {
		return ""
	}
	return id
}

// Matches returns the entry's match records in document order.
func (e CameraEntry) Matches(opts Options) []MatchRecord {
	opts = opts.withDefaults()
	items, err := cast.ToSliceE(e.Fields[opts.MatchesField])
	if err != nil {
		return nil
	}

	records := make([]MatchRecord, 0, len(items))
	for _, item := range items {
		fields, err := cast.ToStringMapE(item)
		if err != nil {
			continue
		}
		records = append(records, MatchRecord(fields))
	}
	return records
}

// Catalog is the ordered list of camera entries of a region catalog file.
type Catalog struct {
	Path    string
	Entries []CameraEntry
}

// Regions returns the regions of the first entry whose camera id equals cameraID.
//
// Arguments:
//   - cameraID: The camera identifier, matched exactly.
//   - opts: Field names and polygon priority.
//
// Returns:
//   - []Region: The usable regions in record order; empty if the camera is
//     unknown or none of its records carries a usable polygon.
func (c *Catalog) Regions(cameraID string, opts Options) []Region {
	opts = opts.withDefaults()
	for _, entry := range c.Entries {
		if entry.CameraID(opts) != cameraID {
			continue
		}

		var regions []Region
		for _, match := range entry.Matches(opts) {
			if region, ok := match.Region(opts); ok {
				regions = append(regions, region)
			}
		}
		return regions
	}
	return nil
}

// CameraIDs lists the camera identifiers in document order, duplicates included.
func (c *Catalog) CameraIDs(opts Options) []string {
	ids := make([]string, 0, len(c.Entries))
	for _, entry := range c.Entries {
		if id := entry.CameraID(opts); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Load reads a region catalog, preserving the order of its top-level entries.
//
// Files ending in .yaml or .yml are parsed as YAML, everything else as JSON.
//
// Arguments:
//   - path: Path to the catalog file.
//
// Returns:
//   - *Catalog: The parsed catalog.
//   - error: ErrCatalogUnavailable or ErrCatalogMalformed, wrapped with detail.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrCatalogUnavailable, "%s: %v", path, err)
	}

	var entries []CameraEntry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		entries, err = decodeYAML(data)
	default:
		entries, err = decodeJSON(data)
	}
	if err != nil {
		return nil, errors.Wrapf(ErrCatalogMalformed, "%s: %v", path, err)
	}

	return &Catalog{Path: path, Entries: entries}, nil
}

// Resolve loads the catalog at path and returns the regions of cameraID.
func Resolve(path, cameraID string, opts Options) ([]Region, error) {
	catalog, err := Load(path)
	if err != nil {
		return nil, err
	}
	return catalog.Regions(cameraID, opts), nil
}

// decodeJSON streams the top-level object so that key order survives.
func decodeJSON(data []byte) ([]CameraEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.Errorf("top level must be an object, got %v", tok)
	}

	var entries []CameraEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.Errorf("unexpected key %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}

		// Entries that are not objects are tolerated and ignored.
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			continue
		}
		entries = append(entries, CameraEntry{Key: key, Fields: fields})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after top-level object")
	}
	return entries, nil
}

func decodeYAML(data []byte) ([]CameraEntry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("empty document")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("top level must be a mapping")
	}

	var entries []CameraEntry
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if value.Kind != yaml.MappingNode {
			continue
		}

		var fields map[string]any
		if err := value.Decode(&fields); err != nil {
			return nil, errors.Wrapf(err, "entry %q", key.Value)
		}
		entries = append(entries, CameraEntry{Key: key.Value, Fields: fields})
	}
	return entries, nil
}
