package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdstore/pkg/data"
)

func TestLoadConfigBuildsRegistry(t *testing.T) {
	mainRoot := t.TempDir()
	archiveRoot := t.TempDir()
	raw := `
default: main
flush_interval: 2s
flush_size: 500
drives:
  main:
    type: local
    root: ` + mainRoot + `
  archive:
    type: local
    root: ` + archiveRoot + `
overrides:
  - security: BTCUSDT@BNB
    data_type: Candle.TimeFrame
    time_frame: 1m
    drive: archive
`
	cfg, err := LoadConfigFromReader(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.FlushInterval)
	assert.Equal(t, 500, cfg.FlushSize)

	reg, drives, err := cfg.BuildRegistry(nil)
	require.NoError(t, err)
	require.Len(t, drives, 2)
	assert.Same(t, drives["main"], reg.DefaultDrive())

	key := data.StreamKey{
		Security: data.MustSecurityID("BTCUSDT@BNB"),
		Type:     data.TypeCandleTimeFrame,
		Arg:      data.Arg{TimeFrame: time.Minute},
	}
	assert.Same(t, drives["archive"], reg.ResolveDrive(key))

	ticks := data.StreamKey{Security: key.Security, Type: data.TypeTicks}
	assert.Same(t, drives["main"], reg.ResolveDrive(ticks))
}

func TestOverridePriceArgument(t *testing.T) {
	root := t.TempDir()
	raw := `
default: main
drives:
  main:
    type: local
    root: ` + root + `
overrides:
  - security: BTCUSDT@BNB
    data_type: Candle.Renko
    price: "0.25"
    price_scale: 2
    drive: main
  - security: AAPL@NASDAQ
    data_type: Candle.Range
    price: "1.5"
    drive: main
`
	cfg, err := LoadConfigFromReader(strings.NewReader(raw))
	require.NoError(t, err)

	key, err := cfg.Overrides[0].StreamKey()
	require.NoError(t, err)
	assert.Equal(t, int64(25), key.Arg.Count)

	// Without an explicit scale the store default applies.
	key, err = cfg.Overrides[1].StreamKey()
	require.NoError(t, err)
	assert.Equal(t, int64(150_000_000), key.Arg.Count)

	_, err = LoadConfigFromReader(strings.NewReader(`
default: main
drives:
  main:
    type: local
    root: ` + root + `
overrides:
  - security: AAPL@NASDAQ
    data_type: Candle.Renko
    price: "0.255"
    price_scale: 2
    drive: main
`))
	require.Error(t, err, "excess precision must be rejected")
	assert.Contains(t, err.Error(), "decimal digits")
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "no drives",
			raw:  "default: main\n",
			want: "no drives",
		},
		{
			name: "missing default",
			raw:  "drives:\n  main:\n    type: local\n    root: /tmp\n",
			want: "default drive is required",
		},
		{
			name: "unknown default",
			raw:  "default: other\ndrives:\n  main:\n    type: local\n    root: /tmp\n",
			want: `default drive "other" not configured`,
		},
		{
			name: "unknown drive type",
			raw:  "default: main\ndrives:\n  main:\n    type: ftp\n",
			want: `unknown type "ftp"`,
		},
		{
			name: "override references unknown drive",
			raw: "default: main\ndrives:\n  main:\n    type: local\n    root: /tmp\n" +
				"overrides:\n  - security: AAPL@NASDAQ\n    data_type: Ticks\n    drive: cold\n",
			want: `unknown drive "cold"`,
		},
		{
			name: "override bad time frame",
			raw: "default: main\ndrives:\n  main:\n    type: local\n    root: /tmp\n" +
				"overrides:\n  - security: AAPL@NASDAQ\n    data_type: Candle.TimeFrame\n    time_frame: fast\n    drive: main\n",
			want: "time_frame",
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

func TestDriveConfigEnvExpansion(t *testing.T) {
	root := t.TempDir()
	t.Setenv("MDS_CONFIG_TEST_ROOT", root)
	raw := `
default: main
drives:
  main:
    type: local
    root: ${MDS_CONFIG_TEST_ROOT}
`
	cfg, err := LoadConfigFromReader(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, root, cfg.Drives["main"].Root)
}
