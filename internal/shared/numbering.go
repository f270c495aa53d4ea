package shared

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Document number prefixes.
const (
	PrefixDelivery = "DO"
	PrefixReceipt  = "RC"
)

// DocumentNumber builds a human readable number such as DO-20240105-1A2B3C4D.
func DocumentNumber(prefix string, date time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return prefix + "-" + date.UTC().Format("20060102") + "-" + suffix
}
