package syncer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdstore/pkg/data"
)

func TestLoadConfigFromReader(t *testing.T) {
	t.Setenv("MDS_SYNC_TEST_TOKEN", "s3cret")
	raw := `
endpoint: https://md.example.com
token: ${MDS_SYNC_TEST_TOKEN}
format: binary
pattern: "*@NASDAQ"
local_root: /var/lib/mdstore
journal_dir: /var/lib/mdstore/journal
timeout: 30s
max_retries: 5
data_types:
  - data_type: Ticks
  - data_type: Candle.TimeFrame
    time_frame: 5m
`
	cfg, err := LoadConfigFromReader(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "https://md.example.com", cfg.Endpoint)
	assert.Equal(t, "s3cret", cfg.Token)
	assert.Equal(t, "*@NASDAQ", cfg.Pattern)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.MaxRetries)

	types, err := cfg.BuildTypes()
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, data.TypeTicks, types[0].Type)
	assert.Equal(t, data.TypeCandleTimeFrame, types[1].Type)
	assert.Equal(t, 5*time.Minute, types[1].Arg.TimeFrame)

	assert.NotNil(t, cfg.BuildRemote())
}

func TestDataTypePriceArgument(t *testing.T) {
	raw := `
endpoint: https://md.example.com
local_root: /tmp
data_types:
  - data_type: Candle.Renko
    price: "0.25"
    price_scale: 2
  - data_type: Candle.PnF
    price: "0.5"
    price_scale: 2
    reversal: 3
`
	cfg, err := LoadConfigFromReader(strings.NewReader(raw))
	require.NoError(t, err)

	types, err := cfg.BuildTypes()
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, int64(25), types[0].Arg.Count)
	assert.Equal(t, int64(50), types[1].Arg.Count)
	assert.Equal(t, int64(3), types[1].Arg.Reversal)

	_, err = LoadConfigFromReader(strings.NewReader(`
endpoint: https://md.example.com
local_root: /tmp
data_types:
  - data_type: Candle.Renko
    price: "cheap"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cheap")
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"missing endpoint", "local_root: /tmp\n", "endpoint is required"},
		{"missing local root", "endpoint: https://md.example.com\n", "local_root is required"},
		{
			"unknown data type",
			"endpoint: https://md.example.com\nlocal_root: /tmp\ndata_types:\n  - data_type: Gossip\n",
			"Gossip",
		},
		{
			"bad timeout",
			"endpoint: https://md.example.com\nlocal_root: /tmp\ntimeout: soon\n",
			"timeout",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfigFromReader(strings.NewReader(tc.raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
