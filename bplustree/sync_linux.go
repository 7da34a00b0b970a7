//go:build linux

package bplustree

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncFile 在 linux 上使用 fdatasync，只刷数据不刷元数据
func syncFile(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
