package fingerprint

import (
	"strconv"
	"strings"

	"github.com/kisman271128/salesman-dashboard/internal/model"
)

// Generate derives the device fingerprint for a characteristics vector.
// Pure function: same vector in, same fingerprint out. Missing optional
// attributes degrade to their zero value and still produce a fingerprint.
//
// The hash is deliberately the dashboard's historical rolling hash
// (32-bit signed accumulator, base-36 of the absolute value), not a
// cryptographic digest: fingerprints persisted by older clients must keep
// matching.
func Generate(v model.CharacteristicsVector) string {
	return hashCode(canonical(v))
}

// canonical flattens the vector into one delimited string in a fixed
// attribute order. Changing the order or the separator changes every
// fingerprint in the field, so both are frozen.
func canonical(v model.CharacteristicsVector) string {
	parts := []string{
		v.UserAgent,
		v.Platform,
		v.Language,
		v.Languages,
		v.Vendor,
		strconv.Itoa(v.ScreenWidth),
		strconv.Itoa(v.ScreenHeight),
		strconv.Itoa(v.AvailWidth),
		strconv.Itoa(v.AvailHeight),
		strconv.Itoa(v.ColorDepth),
		strconv.Itoa(v.PixelDepth),
		v.Timezone,
		strconv.Itoa(v.TimezoneOffset),
		strconv.Itoa(v.HardwareConcurrency),
		strconv.Itoa(v.DeviceMemory),
		strconv.FormatBool(v.TouchSupport),
		strconv.Itoa(v.MaxTouchPoints),
		v.CanvasHash,
		strconv.FormatBool(v.CookieEnabled),
		v.DoNotTrack,
		v.Plugins,
	}
	return strings.Join(parts, "|")
}

// hashCode implements hash = hash*31 + charCode over a 32-bit signed
// accumulator, rendered as the base-36 form of its absolute value.
// Collisions are possible and accepted.
func hashCode(s string) string {
	var h int32
	for _, c := range s {
		h = h*31 + int32(c)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return strconv.FormatInt(abs, 36)
}
