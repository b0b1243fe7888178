package presence

import (
	"strconv"
	"strings"
	"time"
)

// FormatLastSeen renders how long ago lastSeen was, relative to now, in
// English or Arabic ("ar" language tags). A zero lastSeen renders "".
func FormatLastSeen(lastSeen, now time.Time, lang string) string {
	if lastSeen.IsZero() {
		return ""
	}
	arabic := strings.HasPrefix(strings.ToLower(lang), "ar")

	d := now.Sub(lastSeen)
	switch {
	case d < time.Minute:
		if arabic {
			return "الآن"
		}
		return "now"
	case d < time.Hour:
		n := strconv.Itoa(int(d / time.Minute))
		if arabic {
			return "منذ " + n + " دقيقة"
		}
		return n + " minutes ago"
	case d < 24*time.Hour:
		n := strconv.Itoa(int(d / time.Hour))
		if arabic {
			return "منذ " + n + " ساعة"
		}
		return n + "h ago"
	default:
		n := strconv.Itoa(int(d / (24 * time.Hour)))
		if arabic {
			return "منذ " + n + " يوم"
		}
		return n + "d ago"
	}
}
