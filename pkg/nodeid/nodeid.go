// Package nodeid identifies this gateway instance in published events.
package nodeid

import (
	"os"

	"github.com/denisbrodbeck/machineid"
)

const appID = "oms-gateway"

// Get returns a stable, app-scoped machine id. When the machine id is not
// readable (containers without /etc/machine-id) the hostname is used.
func Get() string {
	if id, err := machineid.ProtectedID(appID); err == nil && id != "" {
		return id[:16]
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
