//go:build !unix

package update

import "errors"

func execve(path string, args, env []string) error {
	return errors.New("restart: not supported on this platform")
}
