//go:build unix

package update

import "syscall"

func execve(path string, args, env []string) error {
	return syscall.Exec(path, args, env)
}
