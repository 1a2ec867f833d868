package connections

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testSettings struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	Persistent *bool         `mapstructure:"persistent"`
	PoolSize   int           `mapstructure:"pool_size"`
}

func TestDecodeOptionsReadsNumbersAsSeconds(t *testing.T) {
	var settings testSettings
	err := DecodeOptions(Options{"timeout": 5, "persistent": true}, &settings)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, settings.Timeout)
	require.NotNil(t, settings.Persistent)
	require.True(t, *settings.Persistent)
}

func TestDecodeOptionsAcceptsDurationStringsAndFloats(t *testing.T) {
	var settings testSettings
	require.NoError(t, DecodeOptions(Options{"timeout": "250ms"}, &settings))
	require.Equal(t, 250*time.Millisecond, settings.Timeout)

	settings = testSettings{}
	require.NoError(t, DecodeOptions(Options{"timeout": 1.5}, &settings))
	require.Equal(t, 1500*time.Millisecond, settings.Timeout)
}

func TestDecodeOptionsIgnoresUnknownKeysAndWeakTypes(t *testing.T) {
	var settings testSettings
	err := DecodeOptions(Options{"pool_size": "8", "charset": "utf8mb4"}, &settings)
	require.NoError(t, err)
	require.Equal(t, 8, settings.PoolSize)
}

func TestDecodeOptionsRejectsInvalidDuration(t *testing.T) {
	var settings testSettings
	err := DecodeOptions(Options{"timeout": "soon"}, &settings)
	require.Error(t, err)
}

func TestOptionsCloneIsShallowCopy(t *testing.T) {
	original := Options{"timeout": 5}
	clone := original.Clone()
	clone["timeout"] = 10
	require.Equal(t, 5, original["timeout"])

	require.NotNil(t, Options(nil).Clone())
}
