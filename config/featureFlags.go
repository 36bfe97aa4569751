package config

import (
	"os"
	"strings"
)

// ReconcilePruneEnabled gates the destructive half of reconciliation.
// Healing is always safe to run; pruning deletes local rows, so operators
// can switch it off while investigating a suspect remote listing.
//
// Set via env:
// - SYNC_RECONCILE_PRUNE=false
func ReconcilePruneEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SYNC_RECONCILE_PRUNE")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
