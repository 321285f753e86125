//go:build !linux && !windows && !darwin

package vault

import "errors"

func machineID() (string, error) {
	return "", errors.New("machine id not supported on this platform")
}
