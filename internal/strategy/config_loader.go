package strategy

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"hammer-trader/internal/domain"
)

// Config represents a strategy entry in the bootstrap YAML file.
type Config struct {
	Key            string                 `yaml:"key"`
	Type           string                 `yaml:"type"`
	Symbols        []string               `yaml:"symbols"`
	Asset          string                 `yaml:"asset"`
	AllocatedRatio yamlDecimal            `yaml:"allocated_ratio"`
	Interval       string                 `yaml:"interval"`
	MaxPositions   int                    `yaml:"max_positions"`
	Parameters     map[string]yamlDecimal `yaml:"parameters"`
	IsActive       bool                   `yaml:"is_active"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// yamlDecimal decodes YAML ints, floats and strings without going through
// float64.
type yamlDecimal struct {
	decimal.Decimal
}

func (d *yamlDecimal) UnmarshalYAML(node *yaml.Node) error {
	v, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Decimal = v
	return nil
}

// LoadConfig reads strategies from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes the bootstrap YAML document.
func ParseConfig(data []byte) ([]Config, error) {
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return file.Strategies, nil
}

// Spec converts the entry into a validated Spec. defaultAsset fills an
// empty asset.
func (c Config) Spec(defaultAsset string) (Spec, error) {
	params := make(map[string]decimal.Decimal, len(c.Parameters))
	for k, v := range c.Parameters {
		params[k] = v.Decimal
	}
	symbols := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		if t := strings.ToUpper(strings.TrimSpace(s)); t != "" {
			symbols = append(symbols, t)
		}
	}
	asset := c.Asset
	if asset == "" {
		asset = defaultAsset
	}
	maxPositions := c.MaxPositions
	if maxPositions == 0 {
		maxPositions = 1
	}
	status := StatusStopped
	if c.IsActive {
		status = StatusService
	}

	spec := Spec{
		Key:            c.Key,
		Type:           c.Type,
		Symbols:        symbols,
		Asset:          strings.ToUpper(asset),
		AllocatedRatio: c.AllocatedRatio.Decimal,
		Interval:       domain.Interval(c.Interval),
		MaxPositions:   maxPositions,
		Parameters:     params,
		Status:         status,
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}
