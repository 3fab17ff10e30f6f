package torrentutil

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var sizeSuffixes = [...]string{"B", "KB", "MB", "GB", "TB", "PB"}

// HumanReadableSize formats bytes with binary multiples and two decimals,
// e.g. 1536 -> "1.50 KB". Negative input is printed as plain bytes.
func HumanReadableSize(bytes int64) string {
	if bytes < 0 {
		return fmt.Sprintf("%d B", bytes)
	}
	size := float64(bytes)
	i := 0
	for size >= 1024 && i < len(sizeSuffixes)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", size, sizeSuffixes[i])
}

// FormatRate formats a transfer rate given in bytes per second.
func FormatRate(bytesPerSec int64) string {
	return HumanReadableSize(bytesPerSec) + "/s"
}

// CalculateETA returns the remaining time in seconds. ok is false when the
// rate is not positive; an already complete transfer yields 0.
func CalculateETA(totalSize, downloaded, rate int64) (seconds float64, ok bool) {
	if rate <= 0 {
		return 0, false
	}
	remaining := totalSize - downloaded
	if remaining <= 0 {
		return 0, true
	}
	return float64(remaining) / float64(rate), true
}

// ETADuration is CalculateETA expressed as a time.Duration.
func ETADuration(totalSize, downloaded, rate int64) (time.Duration, bool) {
	secs, ok := CalculateETA(totalSize, downloaded, rate)
	if !ok {
		return 0, false
	}
	if secs > math.MaxInt64/float64(time.Second) {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(secs * float64(time.Second)), true
}

// FormatDuration renders d with hour, minute and second units, keeping the
// two most significant non-zero ones: "1h 5m", "2m 30s", "45s".
func FormatDuration(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	if secs <= 0 {
		return "0s"
	}
	parts := make([]string, 0, 2)
	units := []struct {
		n      int64
		suffix string
	}{
		{secs / 3600, "h"},
		{secs % 3600 / 60, "m"},
		{secs % 60, "s"},
	}
	for _, u := range units {
		if len(parts) > 0 && u.n == 0 {
			break
		}
		if u.n == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d%s", u.n, u.suffix))
		if len(parts) == 2 {
			break
		}
	}
	return strings.Join(parts, " ")
}
