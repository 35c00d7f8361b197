package support

import (
	"os"
	"strings"
	"sync"
)

const envInstanceID = "ROOKERY_INSTANCE_ID"

var (
	instanceIDOnce  sync.Once
	instanceIDValue string
)

// GetInstanceID identifies this process for batch leasing. Falls back to the
// hostname when no explicit ID is configured.
func GetInstanceID() string {
	instanceIDOnce.Do(func() {
		value := strings.TrimSpace(GetEnv(envInstanceID, ""))
		if value == "" {
			hostname, err := os.Hostname()
			if err == nil {
				value = strings.TrimSpace(hostname)
			}
		}
		if value == "" {
			value = "default"
		}
		instanceIDValue = value
	})
	return instanceIDValue
}
