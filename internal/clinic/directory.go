package clinic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// Directory is the read-only clinic directory collaborator.
type Directory interface {
	// Clinics returns the snapshot of clinics in a country. An empty country
	// code returns no clinics.
	Clinics(ctx context.Context, countryCode string) ([]models.Clinic, error)
}

// StaticDirectory serves a fixed in-memory clinic list.
type StaticDirectory struct {
	clinics []models.Clinic
}

// NewStaticDirectory creates a directory over a fixed list.
func NewStaticDirectory(clinics []models.Clinic) *StaticDirectory {
	return &StaticDirectory{clinics: clinics}
}

// Clinics implements Directory.
func (d *StaticDirectory) Clinics(ctx context.Context, countryCode string) ([]models.Clinic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	countryCode = strings.ToUpper(strings.TrimSpace(countryCode))
	if countryCode == "" {
		return nil, nil
	}
	var out []models.Clinic
	for _, c := range d.clinics {
		if strings.EqualFold(c.CountryCode, countryCode) {
			out = append(out, c)
		}
	}
	return out, nil
}

// LoadFile reads a JSON array of clinics for a StaticDirectory.
func LoadFile(path string) ([]models.Clinic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read clinic file: %w", err)
	}
	var clinics []models.Clinic
	if err := json.Unmarshal(data, &clinics); err != nil {
		return nil, fmt.Errorf("failed to parse clinic file %s: %w", path, err)
	}
	return clinics, nil
}
