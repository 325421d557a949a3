package shared

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a prefixed random identifier, e.g. "cmp_3af1...".
func NewID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// TriggerSignal is the opaque per-frame signal produced by the shell's
// lightweight detector. The backend never interprets it; it is carried
// alongside analysis requests and persisted with history rows.
type TriggerSignal struct {
	PersonCount     int     `json:"person_count"`
	CrowdDensity    float64 `json:"crowd_density"`
	MotionIntensity float64 `json:"motion_intensity"`
}
