package instance

import (
	"os"

	"github.com/parkez/parkez-backend/pkg/env"
)

// GetID identifies this worker process in logs and lock values.
func GetID() string {
	if id := env.Get("PARKEZ_WORKER_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
