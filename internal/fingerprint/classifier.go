package fingerprint

import (
	"fmt"
	"strings"

	"github.com/kisman271128/salesman-dashboard/internal/model"
)

// Unknown is the sentinel for any field the classifier cannot determine.
// Never an empty string.
const Unknown = "Unknown"

// Width below which a touch device classifies as Mobile rather than Tablet,
// in logical pixels.
const mobileWidthThreshold = 768

// Classify maps a characteristics vector to a human-readable summary.
// Pattern matching is fixed-priority, first match wins:
//
//	OS:      Android, iOS (iphone/ipad/ipod), Windows, MacOS, Linux.
//	         Mobile markers are checked before "mac"/"linux" because iOS and
//	         Android agent strings contain both.
//	Browser: Edge ("edg"), Opera ("opera"/"opr"), Chrome, Safari (without
//	         "chrome"), Firefox. "edg" first: Chromium Edge also says
//	         "chrome".
func Classify(v model.CharacteristicsVector) model.DeviceInfo {
	ua := strings.ToLower(v.UserAgent)

	info := model.DeviceInfo{
		Device:   classifyDevice(v),
		Browser:  classifyBrowser(ua),
		OS:       classifyOS(ua),
		Language: v.Language,
		Timezone: v.Timezone,
	}
	if v.ScreenWidth > 0 && v.ScreenHeight > 0 {
		info.Screen = fmt.Sprintf("%dx%d", v.ScreenWidth, v.ScreenHeight)
	}
	return info
}

func classifyOS(ua string) string {
	switch {
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return "iOS"
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "mac"):
		return "MacOS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	default:
		return Unknown
	}
}

func classifyBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "edg"):
		return "Edge"
	case strings.Contains(ua, "opera"), strings.Contains(ua, "opr"):
		return "Opera"
	case strings.Contains(ua, "chrome"):
		return "Chrome"
	case strings.Contains(ua, "safari"):
		return "Safari"
	case strings.Contains(ua, "firefox"):
		return "Firefox"
	default:
		return Unknown
	}
}

func classifyDevice(v model.CharacteristicsVector) string {
	if v.TouchSupport && v.MaxTouchPoints > 0 {
		if v.ScreenWidth < mobileWidthThreshold {
			return "Mobile"
		}
		return "Tablet"
	}
	return "Desktop"
}
