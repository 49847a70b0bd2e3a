package schedule

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jszwec/csvutil"
	"gopkg.in/yaml.v3"
)

//go:embed reference_schedule.csv
var referenceSchedule []byte

// Default returns the embedded reference schedule.
func Default() (*Catalog, error) {
	return LoadCSV(bytes.NewReader(referenceSchedule))
}

// LoadCSV reads a header-first CSV with columns
// vaccine_name,dose_number,total_doses,age_bucket,age_in_months,required.
func LoadCSV(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read schedule csv: %w", err)
	}
	var entries []Entry
	if err := csvutil.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode schedule csv: %w", err)
	}
	return NewCatalog(entries)
}

// LoadYAML reads a top-level YAML list of entries.
func LoadYAML(r io.Reader) (*Catalog, error) {
	var entries []Entry
	if err := yaml.NewDecoder(r).Decode(&entries); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode schedule yaml: %w", err)
	}
	return NewCatalog(entries)
}

// LoadFile picks the decoder from the file extension. An empty path loads the
// embedded reference schedule.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schedule %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadCSV(f)
	case ".yaml", ".yml":
		return LoadYAML(f)
	default:
		return nil, fmt.Errorf("unsupported schedule format %q", filepath.Ext(path))
	}
}
