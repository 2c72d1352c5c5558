package risk

import (
	"math"
	"strings"
)

const (
	maxDeviceDrift        = 30
	maxGeoDrift           = 25
	maxTypingDrift        = 25
	maxTimingAnomaly      = 10
	maxAttemptsMultiplier = 10

	deviceFamilyDrift  = 10
	deviceUnknownDrift = 25
	geoMismatchDrift   = 20
	typingDriftFactor  = 0.5
	timingPerHour      = 2
	attemptPenalty     = 2
)

// ComputeBreakdown compares a login against the user's baseline. A nil
// baseline means the user has none and DefaultBaseline is used.
func ComputeBreakdown(event LoginEvent, baseline *UserBaseline) RiskBreakdown {
	b := DefaultBaseline()
	if baseline != nil {
		b = *baseline
	}

	return RiskBreakdown{
		DeviceDrift:        clamp(deviceDrift(event.Device, b.PrimaryDevice), 0, maxDeviceDrift),
		GeoDrift:           clamp(geoDrift(event.GeoLabel, event.RegionCode, b.PrimaryRegion), 0, maxGeoDrift),
		TypingDrift:        clamp(typingDrift(event.Typing.withDefaults().TypingSpeed, b.AvgTypingSpeed), 0, maxTypingDrift),
		TimingAnomaly:      clamp(timingAnomaly(event.Hour, b.TypicalLoginWindow), 0, maxTimingAnomaly),
		AttemptsMultiplier: clamp(attemptsMultiplier(event.Attempts), 0, maxAttemptsMultiplier),
	}
}

// normalizeLabel lowercases and joins whitespace-separated words with hyphens,
// so "Windows Chrome" and "windows-chrome" compare equal.
func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}

func deviceFamily(normalized string) string {
	family, _, _ := strings.Cut(normalized, "-")
	return family
}

func deviceDrift(device, primary string) int {
	d, p := normalizeLabel(device), normalizeLabel(primary)
	switch {
	case d != "" && d == p:
		return 0
	case deviceFamily(d) != "" && deviceFamily(d) == deviceFamily(p):
		return deviceFamilyDrift
	default:
		return deviceUnknownDrift
	}
}

func geoDrift(geoLabel, regionCode, primary string) int {
	p := normalizeLabel(primary)
	if p == "" {
		return geoMismatchDrift
	}
	if normalizeLabel(geoLabel) == p {
		return 0
	}
	if regionCode != "" && normalizeLabel(regionCode) == p {
		return 0
	}
	return geoMismatchDrift
}

func typingDrift(wpm, baseline float64) int {
	return floorPoints(math.Abs(wpm-baseline)*typingDriftFactor, maxTypingDrift)
}

// floorPoints floors v into [0, hi]. The cap is applied before the integer
// conversion so huge or infinite readings cannot wrap negative.
func floorPoints(v float64, hi int) int {
	if !(v > 0) {
		return 0
	}
	return int(math.Min(float64(hi), math.Floor(v)))
}

// timingAnomaly scores how far hour lies outside the login window. A window
// with Start > End wraps midnight and distances are measured around the clock.
func timingAnomaly(hour int, w LoginWindow) int {
	h := ((hour % 24) + 24) % 24

	var dist int
	if w.Start <= w.End {
		if h >= w.Start && h <= w.End {
			return 0
		}
		dist = min(absInt(h-w.Start), absInt(h-w.End))
	} else {
		if h >= w.Start || h <= w.End {
			return 0
		}
		dist = min(clockDistance(h, w.Start), clockDistance(h, w.End))
	}
	return min(maxTimingAnomaly, timingPerHour*dist)
}

func clockDistance(a, b int) int {
	d := absInt(a - b)
	return min(d, 24-d)
}

func attemptsMultiplier(attempts int) int {
	if attempts <= 1 {
		return 0
	}
	failed := min(attempts-1, maxAttemptsMultiplier/attemptPenalty)
	return failed * attemptPenalty
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
