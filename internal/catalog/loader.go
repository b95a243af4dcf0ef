// Package catalog reads catalog fixtures (offerings, rooms, labs and batch strengths) from CSV
// directories or a single YAML document.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/timetable-api/internal/models"
)

// File names expected inside a CSV catalog directory. Labs are optional.
const (
	OfferingsFile = "offerings.csv"
	RoomsFile     = "rooms.csv"
	LabsFile      = "labs.csv"
	StrengthsFile = "strengths.csv"
)

// Load reads a catalog from a directory of CSV files or from a .yaml/.yml file.
func Load(path string) (*models.Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAMLFile(path)
	default:
		return nil, fmt.Errorf("catalog: unsupported file %s", path)
	}
}

// LoadDir reads the CSV files of a catalog directory.
func LoadDir(dir string) (*models.Catalog, error) {
	cat := &models.Catalog{}
	if err := readCSV(filepath.Join(dir, OfferingsFile), &cat.Offerings, true); err != nil {
		return nil, err
	}
	if err := readCSV(filepath.Join(dir, RoomsFile), &cat.Rooms, true); err != nil {
		return nil, err
	}
	if err := readCSV(filepath.Join(dir, LabsFile), &cat.Labs, false); err != nil {
		return nil, err
	}
	if err := readCSV(filepath.Join(dir, StrengthsFile), &cat.Strengths, true); err != nil {
		return nil, err
	}
	return Normalize(cat)
}

// ParseCSV decodes one CSV table into out, which must be a pointer to a slice of catalog records.
func ParseCSV(r io.Reader, out interface{}) error {
	if err := gocsv.Unmarshal(r, out); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return nil
		}
		return err
	}
	return nil
}

func readCSV(path string, out interface{}, required bool) error {
	file, err := os.Open(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer file.Close()

	if err := ParseCSV(file, out); err != nil {
		return fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return nil
}

// LoadYAMLFile reads a YAML catalog document.
func LoadYAMLFile(path string) (*models.Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	cat, err := ParseYAML(content)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return cat, nil
}

// ParseYAML decodes a catalog from YAML bytes.
func ParseYAML(data []byte) (*models.Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("catalog: document is empty")
	}
	var cat models.Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("catalog: decode yaml: %w", err)
	}
	return Normalize(&cat)
}

// Normalize trims identifiers, canonicalises session types and assigns missing offering ids.
func Normalize(cat *models.Catalog) (*models.Catalog, error) {
	for i := range cat.Offerings {
		o := &cat.Offerings[i]
		o.Subject = strings.TrimSpace(o.Subject)
		o.Instructor = strings.TrimSpace(o.Instructor)
		o.Specialization = strings.TrimSpace(o.Specialization)
		if o.Subject == "" {
			return nil, fmt.Errorf("catalog: offering %d has no subject", i+1)
		}
		typ, err := models.ParseSessionType(string(o.Type))
		if err != nil {
			return nil, fmt.Errorf("catalog: offering %q: %w", o.Subject, err)
		}
		o.Type = typ
		if strings.TrimSpace(o.ID) == "" {
			o.ID = fmt.Sprintf("offering-%d", i+1)
		}
	}
	for i := range cat.Rooms {
		cat.Rooms[i].Number = strings.TrimSpace(cat.Rooms[i].Number)
	}
	for i := range cat.Labs {
		cat.Labs[i].Number = strings.TrimSpace(cat.Labs[i].Number)
	}
	for i := range cat.Strengths {
		s := &cat.Strengths[i]
		s.Specialization = strings.TrimSpace(s.Specialization)
		if s.Sections <= 0 {
			return nil, fmt.Errorf("catalog: strength for year %d has %d sections", s.Year, s.Sections)
		}
	}
	return cat, nil
}
