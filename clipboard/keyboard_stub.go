//go:build !linux && !darwin && !windows

package clipboard

func openKeyboard() (keyboard, error) {
	return nil, ErrInjectUnavailable
}

func Verify() (string, error) {
	return "", ErrInjectUnavailable
}
