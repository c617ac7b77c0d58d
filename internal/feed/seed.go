package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"grievd/internal/domain"
)

// Snapshot is a bulk export of the portal's profiles and open complaints,
// loaded at startup so contacts are known before the first change arrives.
type Snapshot struct {
	Profiles   []json.RawMessage `json:"profiles"`
	Complaints []json.RawMessage `json:"complaints"`
}

// LoadSnapshot reads a JSON or YAML snapshot and returns one create event
// per valid row. Rows are validated like ingested changes.
//
// A read or parse failure returns nil events. Invalid rows are skipped and
// reported in the joined error next to the valid events.
func LoadSnapshot(path string) ([]domain.ChangeEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("snapshot yaml: %w", err)
		}
		if data, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("snapshot yaml->json: %w", err)
		}
	}

	var snap Snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	evs := make([]domain.ChangeEvent, 0, len(snap.Profiles)+len(snap.Complaints))
	var errs []error
	add := func(et domain.EntityType, i int, row json.RawMessage) {
		ev, err := RawChange{EntityType: string(et), Operation: string(domain.OpCreate), After: row}.Event()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s[%d]: %w", et, i, err))
			return
		}
		evs = append(evs, ev)
	}
	for i, row := range snap.Profiles {
		add(domain.EntityProfile, i, row)
	}
	for i, row := range snap.Complaints {
		add(domain.EntityComplaint, i, row)
	}
	return evs, errors.Join(errs...)
}
