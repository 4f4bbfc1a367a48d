/*
Logic:       Tier table as configured data, YAML-loadable, mirroring
             the teacher's gopkg.in/yaml.v3 indirect dependency and the
             config-file pattern used across the retrieved pack for
             anything that should be tunable without a redeploy.
*/

package planpolicy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pogbonna-IAL/content-gateway/store"
)

// TierConfig is one subscription tier's model choice, parallelism
// ceiling, and monthly content-kind limits. A limit of -1 means
// unlimited; 0 means the tier cannot generate that kind at all.
type TierConfig struct {
	DefaultModel      string         `yaml:"default_model"`
	ModelOverrides    map[string]string `yaml:"model_overrides"`
	ParallelLimit     int            `yaml:"parallel_limit"`
	MonthlyLimits     map[string]int `yaml:"monthly_limits"`
	RetentionDays     int            `yaml:"retention_days"`
}

// TierTable maps a plan name to its configuration.
type TierTable map[string]TierConfig

// DefaultTierTable is the built-in table, used when no YAML override
// file is configured — matches spec §4.C's four named tiers.
func DefaultTierTable() TierTable {
	return TierTable{
		string(store.PlanFree): {
			DefaultModel:  "claude-haiku-4-5",
			ParallelLimit: 1,
			RetentionDays: 30,
			MonthlyLimits: map[string]int{
				"blog": 3, "social": 3, "audio": 0, "video": 0,
				"voiceover_audio": 0, "video_render": 0,
			},
		},
		string(store.PlanBasic): {
			DefaultModel:  "claude-haiku-4-5",
			ParallelLimit: 2,
			RetentionDays: 90,
			MonthlyLimits: map[string]int{
				"blog": 30, "social": 30, "audio": 10, "video": 0,
				"voiceover_audio": 10, "video_render": 0,
			},
		},
		string(store.PlanPro): {
			DefaultModel:  "claude-sonnet-4-5",
			ParallelLimit: 4,
			RetentionDays: 365,
			MonthlyLimits: map[string]int{
				"blog": -1, "social": -1, "audio": 100, "video": 20,
				"voiceover_audio": 100, "video_render": 20,
			},
		},
		string(store.PlanEnterprise): {
			DefaultModel:  "claude-opus-4-1",
			ParallelLimit: 8,
			RetentionDays: -1,
			MonthlyLimits: map[string]int{
				"blog": -1, "social": -1, "audio": -1, "video": -1,
				"voiceover_audio": -1, "video_render": -1,
			},
		},
	}
}

// LoadTierTable reads a YAML override of the tier table from path. It
// starts from DefaultTierTable and lets the file override any subset
// of tiers, so a partial file is valid.
func LoadTierTable(path string) (TierTable, error) {
	table := DefaultTierTable()
	if path == "" {
		return table, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return table, nil
		}
		return nil, fmt.Errorf("read tier table %s: %w", path, err)
	}

	var override TierTable
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, fmt.Errorf("parse tier table %s: %w", path, err)
	}
	for plan, cfg := range override {
		table[plan] = cfg
	}
	return table, nil
}
