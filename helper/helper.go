package helper

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// FormatTTL renders a nanosecond TTL for logs.
func FormatTTL(ttlNano int64) string {
	d := time.Duration(ttlNano) * time.Nanosecond

	if d.Hours() >= 1 {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	if d.Minutes() >= 1 {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	if d.Seconds() >= 1 {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dns", ttlNano)
}

// GenerateRandomString generates a cryptographically secure random string
func GenerateRandomString(length int) string {
	bytes := make([]byte, (length+1)/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:length]
}

// GenerateBuildID returns a boot-time build identifier. Deployments embed
// a real build timestamp; dev mode falls back to this.
func GenerateBuildID() string {
	return time.Now().UTC().Format("20060102150405")
}
