package adapter

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var isoDurationRe = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseISODuration 解析 ISO-8601 时长(PT1H2M3S、P1DT2H)
func parseISODuration(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "P" || s == "PT" {
		return 0, false
	}
	matches := isoDurationRe.FindStringSubmatch(s)
	if matches == nil {
		return 0, false
	}

	units := []int64{86400, 3600, 60, 1}
	var total int64
	for i, unit := range units {
		if matches[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(matches[i+1], 10, 64)
		if err != nil {
			return 0, false
		}
		total += n * unit
	}
	return total, true
}

// parseClockDuration 解析 "m:ss" 或 "h:mm:ss"
func parseClockDuration(s string) (int64, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}

	var total int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		// 除最高位外, 分和秒不超过 59
		if i > 0 && n > 59 {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

// parseSeconds 解析整数或小数秒, 小数四舍五入
func parseSeconds(v float64) (int64, bool) {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return int64(math.Round(v)), true
}
