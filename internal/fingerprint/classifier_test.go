package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kisman271128/salesman-dashboard/internal/model"
)

func TestClassifyOS(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"android", "Mozilla/5.0 (Linux; Android 13; SM-A525F)", "Android"},
		{"iphone before mac", "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X)", "iOS"},
		{"ipad before mac", "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X)", "iOS"},
		{"windows", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", "Windows"},
		{"mac", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)", "MacOS"},
		{"linux", "Mozilla/5.0 (X11; Linux x86_64)", "Linux"},
		{"unknown", "SomeBot/1.0", Unknown},
		{"empty", "", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Classify(model.CharacteristicsVector{UserAgent: tt.ua})
			assert.Equal(t, tt.want, info.OS)
		})
	}
}

func TestClassifyBrowser(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		// Chromium Edge also contains "chrome"; Edge must win.
		{"edge before chrome", "Mozilla/5.0 Chrome/120.0 Safari/537.36 Edg/120.0", "Edge"},
		{"opera opr before chrome", "Mozilla/5.0 Chrome/120.0 OPR/106.0", "Opera"},
		{"chrome", "Mozilla/5.0 Chrome/120.0 Safari/537.36", "Chrome"},
		{"safari without chrome", "Mozilla/5.0 (Macintosh) Version/17.0 Safari/605.1.15", "Safari"},
		{"firefox", "Mozilla/5.0 (Windows NT 10.0; rv:120.0) Gecko/20100101 Firefox/120.0", "Firefox"},
		{"unknown", "curl/8.0", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Classify(model.CharacteristicsVector{UserAgent: tt.ua})
			assert.Equal(t, tt.want, info.Browser)
		})
	}
}

func TestClassifyDevice(t *testing.T) {
	tests := []struct {
		name string
		v    model.CharacteristicsVector
		want string
	}{
		{
			"narrow touch screen is mobile",
			model.CharacteristicsVector{TouchSupport: true, MaxTouchPoints: 5, ScreenWidth: 390},
			"Mobile",
		},
		{
			"wide touch screen is tablet",
			model.CharacteristicsVector{TouchSupport: true, MaxTouchPoints: 5, ScreenWidth: 1024},
			"Tablet",
		},
		{
			"boundary width is tablet",
			model.CharacteristicsVector{TouchSupport: true, MaxTouchPoints: 5, ScreenWidth: 768},
			"Tablet",
		},
		{
			"no touch is desktop",
			model.CharacteristicsVector{ScreenWidth: 1920},
			"Desktop",
		},
		{
			"touch flag without touch points is desktop",
			model.CharacteristicsVector{TouchSupport: true, MaxTouchPoints: 0, ScreenWidth: 390},
			"Desktop",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Classify(tt.v)
			assert.Equal(t, tt.want, info.Device)
		})
	}
}

func TestClassifyScreenAndPassthrough(t *testing.T) {
	info := Classify(model.CharacteristicsVector{
		ScreenWidth:  1920,
		ScreenHeight: 1080,
		Language:     "id-ID",
		Timezone:     "Asia/Jakarta",
	})
	assert.Equal(t, "1920x1080", info.Screen)
	assert.Equal(t, "id-ID", info.Language)
	assert.Equal(t, "Asia/Jakarta", info.Timezone)

	noDims := Classify(model.CharacteristicsVector{})
	assert.Empty(t, noDims.Screen)
}
