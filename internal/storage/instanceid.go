package storage

import (
	"os"
	"strconv"

	"github.com/google/uuid"
)

// GenerateInstanceID returns a unique string for this process (hostname+pid+random).
func GenerateInstanceID() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}

	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + uuid.NewString()[:8]
}
