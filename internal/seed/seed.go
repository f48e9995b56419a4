// Package seed holds the bundled read-only base dataset.
package seed

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ucasvieira/locadora/internal/model"
)

//go:embed seed.json
var bundled []byte

// Dataset is the base layer for every record set.
type Dataset struct {
	Movies         []model.Movie      `json:"movies"`
	Users          []model.Credential `json:"users"`
	InitialRentals []model.Rental     `json:"initialRentals"`
}

// Bundled decodes the dataset compiled into the binary.
func Bundled() (*Dataset, error) {
	return Parse(bundled)
}

// LoadFile decodes a dataset from path; an empty path yields the bundled one.
func LoadFile(path string) (*Dataset, error) {
	if path == "" {
		return Bundled()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return Parse(b)
}

// Parse decodes and checks a dataset. Movie IDs and usernames must be
// non-empty and unique.
func Parse(b []byte) (*Dataset, error) {
	var d Dataset
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	ids := make(map[string]struct{}, len(d.Movies))
	for _, m := range d.Movies {
		if m.ID == "" {
			return nil, fmt.Errorf("seed movie %q has no id", m.Title)
		}
		if _, dup := ids[m.ID]; dup {
			return nil, fmt.Errorf("seed movie id %q repeated", m.ID)
		}
		ids[m.ID] = struct{}{}
	}
	names := make(map[string]struct{}, len(d.Users))
	for _, u := range d.Users {
		if u.Username == "" {
			return nil, errors.New("seed user without username")
		}
		if _, dup := names[u.Username]; dup {
			return nil, fmt.Errorf("seed username %q repeated", u.Username)
		}
		names[u.Username] = struct{}{}
	}
	return &d, nil
}
