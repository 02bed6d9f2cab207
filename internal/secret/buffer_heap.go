//go:build !linux && !darwin

package secret

import "errors"

func lockedAlloc(int) ([]byte, func([]byte), error) {
	return nil, nil, errors.New("secret: locked memory not supported on this platform")
}
