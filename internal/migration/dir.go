package migration

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// Dir stores artifacts as <version>.json, versions starting at 1.
type Dir struct {
	path   string
	logger *slog.Logger
}

// NewDir returns a Dir rooted at path. A nil logger selects slog.Default.
func NewDir(path string, logger *slog.Logger) *Dir {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{path: path, logger: logger}
}

// Path returns the directory path.
func (d *Dir) Path() string {
	return d.path
}

// Versions lists stored versions in increasing order. A missing directory
// holds no versions.
func (d *Dir) Versions() ([]int, error) {
	entries, err := os.ReadDir(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	var versions []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil || v < 1 {
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

// Latest returns the highest stored version, 0 when none.
func (d *Dir) Latest() (int, error) {
	versions, err := d.Versions()
	if err != nil || len(versions) == 0 {
		return 0, err
	}
	return versions[len(versions)-1], nil
}

// Load reads one artifact.
func (d *Dir) Load(version int) (*Migration, error) {
	data, err := os.ReadFile(d.file(version))
	if err != nil {
		return nil, fmt.Errorf("read migration %d: %w", version, err)
	}
	var m Migration
	if err := sonic.ConfigStd.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode migration %d: %w", version, err)
	}
	if m.TaintedFlowStrategy == "" {
		m.TaintedFlowStrategy = StrategyIgnore
	}
	if m.TaintedFlowStrategy.Rank() < 0 {
		return nil, fmt.Errorf("migration %d: unknown tainted flow strategy %q", version, m.TaintedFlowStrategy)
	}
	return &m, nil
}

// LoadAll reads every artifact. Versions must be contiguous from 1.
func (d *Dir) LoadAll() ([]*Migration, error) {
	versions, err := d.Versions()
	if err != nil {
		return nil, err
	}
	out := make([]*Migration, 0, len(versions))
	for i, v := range versions {
		if v != i+1 {
			return nil, fmt.Errorf("migration %d is missing in %s", i+1, d.path)
		}
		m, err := d.Load(v)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Save writes m as the next version and returns it. Recomputing the latest
// artifact is not an error: Save logs a warning and returns the latest
// version without writing.
func (d *Dir) Save(m *Migration) (int, error) {
	data, err := encodeArtifact(m)
	if err != nil {
		return 0, err
	}
	latest, err := d.Latest()
	if err != nil {
		return 0, err
	}
	if latest > 0 {
		prev, err := d.Load(latest)
		if err != nil {
			return 0, err
		}
		prevData, err := encodeArtifact(prev)
		if err != nil {
			return 0, err
		}
		if bytes.Equal(prevData, data) {
			d.logger.Warn("migration equals latest stored artifact, not saving",
				"version", latest,
				"dir", d.path,
			)
			return latest, nil
		}
	}

	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return 0, fmt.Errorf("create migration dir: %w", err)
	}
	version := latest + 1
	if err := os.WriteFile(d.file(version), data, 0o644); err != nil {
		return 0, fmt.Errorf("write migration %d: %w", version, err)
	}
	d.logger.Info("migration saved", "version", version, "flows", len(m.Flows))
	return version, nil
}

// encodeArtifact renders m the way it is stored. Map keys are sorted, so
// equal artifacts encode to equal bytes.
func encodeArtifact(m *Migration) ([]byte, error) {
	data, err := sonic.ConfigStd.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode migration: %w", err)
	}
	return append(data, '\n'), nil
}

func (d *Dir) file(version int) string {
	return filepath.Join(d.path, strconv.Itoa(version)+".json")
}
