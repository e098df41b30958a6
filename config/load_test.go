package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
env: test
log:
  level: info
  outputs: [stdout]
  format: json
store:
  path: data/exec
metrics:
  addr: ":9100"
execution:
  maxOrderNotional: 500
  defaultMaxSlippage: 0.03
  slippageBuffer: 0.01
  convertToLimit: true
bracket:
  pollIntervalMs: 5000
  missingPollLimit: 3
twap:
  intervalMs: 60000
  jitter: 0.2
venues:
  polymarket:
    apiKey: key-from-file
    apiSecret: secret-from-file
  paperlab:
    paper: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.InDelta(t, 500.0, cfg.Execution.MaxOrderNotional, 1e-9)
	assert.InDelta(t, 0.03, cfg.Execution.DefaultMaxSlippage, 1e-9)
	assert.True(t, cfg.Execution.ConvertToLimit)
	assert.Equal(t, 3, cfg.Bracket.MissingPollLimit)
	assert.Equal(t, 60000, cfg.Twap.IntervalMs)
	assert.Equal(t, "data/exec", cfg.Store.Path)
	assert.Equal(t, "key-from-file", cfg.Venues["polymarket"].APIKey)
	assert.True(t, cfg.Venues["paperlab"].Paper)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "env: [unclosed"))
	assert.Error(t, err)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("TE_POLYMARKET_API_KEY", "key-from-env")
	t.Setenv("TE_POLYMARKET_API_SECRET", "secret-from-env")

	cfg, err := LoadWithEnvOverrides(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "key-from-env", cfg.Venues["polymarket"].APIKey)
	assert.Equal(t, "secret-from-env", cfg.Venues["polymarket"].APISecret)
}

func TestValidate(t *testing.T) {
	base := func() AppConfig {
		return AppConfig{
			Env: "test",
			Execution: ExecutionConfig{
				MaxOrderNotional:   500,
				DefaultMaxSlippage: 0.03,
			},
			Venues: map[string]VenueConfig{
				"paperlab": {Paper: true},
			},
		}
	}

	testCases := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{
			name:   "合法配置",
			mutate: func(c *AppConfig) {},
		},
		{
			name:    "env 缺失",
			mutate:  func(c *AppConfig) { c.Env = "" },
			wantErr: "env is required",
		},
		{
			name:    "maxOrderNotional 非正",
			mutate:  func(c *AppConfig) { c.Execution.MaxOrderNotional = 0 },
			wantErr: "maxOrderNotional",
		},
		{
			name:    "defaultMaxSlippage 越界",
			mutate:  func(c *AppConfig) { c.Execution.DefaultMaxSlippage = 1.5 },
			wantErr: "defaultMaxSlippage",
		},
		{
			name:    "slippageBuffer 为负",
			mutate:  func(c *AppConfig) { c.Execution.SlippageBuffer = -0.01 },
			wantErr: "slippageBuffer",
		},
		{
			name:    "无任何场所",
			mutate:  func(c *AppConfig) { c.Venues = nil },
			wantErr: "venues config is required",
		},
		{
			name: "实盘场所缺凭据",
			mutate: func(c *AppConfig) {
				c.Venues["polymarket"] = VenueConfig{}
			},
			wantErr: "apiKey/apiSecret",
		},
		{
			name:    "twap jitter 越界",
			mutate:  func(c *AppConfig) { c.Twap.Jitter = 1.0 },
			wantErr: "jitter",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestValidateParams(t *testing.T) {
	cfg := AppConfig{
		Execution: ExecutionConfig{MaxOrderNotional: 500, DefaultMaxSlippage: 0.03},
		Store:     StoreConfig{Path: "data/exec"},
	}
	assert.NoError(t, ValidateParams(cfg))

	cfg.Store.Path = ""
	err := ValidateParams(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.path")
}
