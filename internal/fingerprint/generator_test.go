package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kisman271128/salesman-dashboard/internal/model"
)

func sampleVector() model.CharacteristicsVector {
	return model.CharacteristicsVector{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		Platform:            "Win32",
		Language:            "id-ID",
		Languages:           "id-ID,en-US",
		Vendor:              "Google Inc.",
		ScreenWidth:         1920,
		ScreenHeight:        1080,
		AvailWidth:          1920,
		AvailHeight:         1040,
		ColorDepth:          24,
		PixelDepth:          24,
		Timezone:            "Asia/Jakarta",
		TimezoneOffset:      -420,
		HardwareConcurrency: 8,
		DeviceMemory:        8,
		TouchSupport:        false,
		MaxTouchPoints:      0,
		CanvasHash:          "a1b2c3",
		CookieEnabled:       true,
		DoNotTrack:          "1",
		Plugins:             "PDF Viewer,Chrome PDF Viewer",
	}
}

func TestGenerateDeterministic(t *testing.T) {
	v := sampleVector()

	first := Generate(v)
	require.NotEmpty(t, first)

	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Generate(v))
	}
}

func TestGenerateBase36Charset(t *testing.T) {
	vectors := []model.CharacteristicsVector{
		{},
		sampleVector(),
		{UserAgent: "x"},
		{UserAgent: "Mozilla/5.0 (iPhone)", TouchSupport: true, MaxTouchPoints: 5},
	}

	for _, v := range vectors {
		fp := Generate(v)
		require.NotEmpty(t, fp)
		for _, c := range fp {
			assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z'),
				"fingerprint %q contains non-base36 rune %q", fp, c)
		}
	}
}

func TestGenerateEmptyVector(t *testing.T) {
	// A vector with every attribute missing still yields a fingerprint: the
	// canonical string is all zero values and separators, never empty.
	fp := Generate(model.CharacteristicsVector{})
	assert.NotEmpty(t, fp)
}

func TestGenerateSensitivity(t *testing.T) {
	base := sampleVector()
	baseFP := Generate(base)

	mutations := []func(*model.CharacteristicsVector){
		func(v *model.CharacteristicsVector) { v.UserAgent += " " },
		func(v *model.CharacteristicsVector) { v.Platform = "Linux x86_64" },
		func(v *model.CharacteristicsVector) { v.Language = "en-US" },
		func(v *model.CharacteristicsVector) { v.ScreenWidth = 1366 },
		func(v *model.CharacteristicsVector) { v.ScreenHeight = 768 },
		func(v *model.CharacteristicsVector) { v.ColorDepth = 30 },
		func(v *model.CharacteristicsVector) { v.Timezone = "Asia/Makassar" },
		func(v *model.CharacteristicsVector) { v.TimezoneOffset = -480 },
		func(v *model.CharacteristicsVector) { v.HardwareConcurrency = 4 },
		func(v *model.CharacteristicsVector) { v.TouchSupport = true },
		func(v *model.CharacteristicsVector) { v.CanvasHash = "a1b2c4" },
		func(v *model.CharacteristicsVector) { v.Plugins = "" },
	}

	changed := 0
	for _, mutate := range mutations {
		v := base
		mutate(&v)
		if Generate(v) != baseFP {
			changed++
		}
	}

	// Collisions are tolerated but must be rare.
	assert.GreaterOrEqual(t, changed, len(mutations)-1,
		"too many single-attribute mutations collided with the base fingerprint")
}

func TestHashCodeKnownValues(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "0"},
		{"a", "2p"},   // 'a' = 97
		{"ab", "2e9"}, // 97*31 + 98 = 3105
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hashCode(tt.in), "hashCode(%q)", tt.in)
	}
}

func TestHashCodeOverflowWraps(t *testing.T) {
	// Long inputs overflow the 32-bit accumulator; the result must stay a
	// valid non-negative base-36 string instead of growing unbounded.
	long := ""
	for i := 0; i < 1000; i++ {
		long += "device-characteristics-overflow-probe"
	}
	fp := hashCode(long)
	assert.NotEmpty(t, fp)
	assert.LessOrEqual(t, len(fp), 7) // abs(int32) < 2^31 fits in 7 base-36 digits
}
