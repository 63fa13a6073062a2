package features

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var durationExpr = regexp.MustCompile(`^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseDuration converts a compact ISO-8601 duration ("PT4M13S", "P1DT2H", "P0D") into seconds.
func ParseDuration(value string) (float64, error) {
	value = strings.TrimSpace(value)
	m := durationExpr.FindStringSubmatch(value)
	if m == nil || value == "P" || strings.HasSuffix(value, "T") {
		return 0, fmt.Errorf("unparsable duration %q", value)
	}

	units := []float64{7 * 86400, 86400, 3600, 60, 1}
	var total float64
	for i, unit := range units {
		part := m[i+1]
		if part == "" {
			continue
		}
		n, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0, fmt.Errorf("duration %q: %w", value, err)
		}
		total += n * unit
	}
	return total, nil
}
