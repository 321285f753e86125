//go:build !windows

package metrics

// primaryMount is the volume reported by DISK_USED and DISK_TOTAL.
const primaryMount = "/"
