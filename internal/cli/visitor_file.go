package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/emiliopalmerini/msplit/internal/split"
	"github.com/emiliopalmerini/msplit/internal/util"
)

// visitorFile is a visitor persisted between CLI invocations, standing in for
// a web session.
type visitorFile struct {
	VisitorID   string         `json:"visitor_id"`
	Assignments *split.Session `json:"assignments"`
}

func defaultSessionPath() (string, error) {
	dir, err := util.GetXDGStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

// loadVisitorFile reads path, or returns a new visitor when it does not exist.
func loadVisitorFile(path string) (*visitorFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &visitorFile{VisitorID: uuid.New().String(), Assignments: split.NewSession()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", path, err)
	}

	var vf visitorFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", path, err)
	}
	if vf.VisitorID == "" {
		vf.VisitorID = uuid.New().String()
	}
	if vf.Assignments == nil {
		vf.Assignments = split.NewSession()
	}
	return &vf, nil
}

func (vf *visitorFile) save(path string) error {
	data, err := json.MarshalIndent(vf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session %s: %w", path, err)
	}
	return nil
}
