// Package field models the seeded crop field and the plot scanner that
// produces the context a chat session talks about.
package field

import (
	"math/rand/v2"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/agrotwin/agrotwin/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

const (
	GridSize       = 10
	DefectiveSpots = 15

	DefaultCrop    = "Tomato"
	DefaultDisease = "Leaf Blight"
)

var (
	ErrInvalidConfig = goerr.New("invalid field configuration")
	ErrOutOfGrid     = goerr.New("position is outside of the field")
)

// Config is the field layout: which plots of the grid are defective
type Config struct {
	GridSize       int              `yaml:"grid_size" json:"grid_size"`
	DefectiveSpots []model.Position `yaml:"defective_spots" json:"defective_spots"`
}

// NewConfig creates a validated configuration from the given defective spots
func NewConfig(spots []model.Position) (*Config, error) {
	cfg := &Config{
		GridSize:       GridSize,
		DefectiveSpots: slices.Clone(spots),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Random picks DefectiveSpots distinct plots using rng
func Random(rng *rand.Rand) *Config {
	cells := rng.Perm(GridSize * GridSize)[:DefectiveSpots]

	spots := make([]model.Position, 0, DefectiveSpots)
	for _, cell := range cells {
		spots = append(spots, model.Position{Row: cell / GridSize, Col: cell % GridSize})
	}

	slices.SortFunc(spots, comparePosition)
	return &Config{GridSize: GridSize, DefectiveSpots: spots}
}

// Validate checks grid size, spot count, bounds and uniqueness
func (c *Config) Validate() error {
	if c.GridSize != GridSize {
		return goerr.Wrap(ErrInvalidConfig, "unsupported grid size", goerr.V("grid_size", c.GridSize))
	}
	if len(c.DefectiveSpots) != DefectiveSpots {
		return goerr.Wrap(ErrInvalidConfig, "wrong number of defective spots",
			goerr.V("expected", DefectiveSpots),
			goerr.V("actual", len(c.DefectiveSpots)))
	}

	seen := make(map[model.Position]bool, len(c.DefectiveSpots))
	for _, spot := range c.DefectiveSpots {
		if !c.inGrid(spot) {
			return goerr.Wrap(ErrInvalidConfig, "defective spot outside of the grid", goerr.V("spot", spot))
		}
		if seen[spot] {
			return goerr.Wrap(ErrInvalidConfig, "duplicated defective spot", goerr.V("spot", spot))
		}
		seen[spot] = true
	}

	return nil
}

// IsDefective reports whether the plot at pos was seeded as defective
func (c *Config) IsDefective(pos model.Position) bool {
	return slices.Contains(c.DefectiveSpots, pos)
}

// Scan inspects one plot and returns the context for a chat session. Empty
// crop and disease fall back to DefaultCrop and DefaultDisease.
func (c *Config) Scan(pos model.Position, crop, disease string) (model.ScanContext, error) {
	if !c.inGrid(pos) {
		return model.ScanContext{}, goerr.Wrap(ErrOutOfGrid, "cannot scan plot", goerr.V("position", pos))
	}

	if crop == "" {
		crop = DefaultCrop
	}

	scan := model.ScanContext{
		CropType: crop,
		Position: pos,
	}

	if c.IsDefective(pos) {
		if disease == "" {
			disease = DefaultDisease
		}
		scan.Status = model.HealthStatusDefective
		scan.Disease = disease
	} else {
		scan.Status = model.HealthStatusHealthy
		scan.Disease = "None"
	}

	return scan, nil
}

// Render draws the grid with X for defective and . for healthy plots
func (c *Config) Render() string {
	var sb strings.Builder
	for row := 0; row < c.GridSize; row++ {
		for col := 0; col < c.GridSize; col++ {
			if col > 0 {
				sb.WriteByte(' ')
			}
			if c.IsDefective(model.Position{Row: row, Col: col}) {
				sb.WriteByte('X')
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Load reads a configuration file. JSON files written by older tools are
// accepted as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read field config", goerr.V("path", path))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse field config", goerr.V("path", path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "field config is invalid", goerr.V("path", path))
	}

	return &cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal field config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return goerr.Wrap(err, "failed to write field config", goerr.V("path", path))
	}

	return nil
}

// ParsePosition parses "row:col" or "row,col"
func ParsePosition(s string) (model.Position, error) {
	rowStr, colStr, ok := strings.Cut(s, ":")
	if !ok {
		rowStr, colStr, ok = strings.Cut(s, ",")
	}
	if !ok {
		return model.Position{}, goerr.New("position must be row:col", goerr.V("input", s))
	}

	row, err := strconv.Atoi(strings.TrimSpace(rowStr))
	if err != nil {
		return model.Position{}, goerr.Wrap(err, "invalid row", goerr.V("input", s))
	}
	col, err := strconv.Atoi(strings.TrimSpace(colStr))
	if err != nil {
		return model.Position{}, goerr.Wrap(err, "invalid column", goerr.V("input", s))
	}

	return model.Position{Row: row, Col: col}, nil
}

func (c *Config) inGrid(pos model.Position) bool {
	return pos.Row >= 0 && pos.Row < c.GridSize && pos.Col >= 0 && pos.Col < c.GridSize
}

func comparePosition(a, b model.Position) int {
	if a.Row != b.Row {
		return a.Row - b.Row
	}
	return a.Col - b.Col
}
