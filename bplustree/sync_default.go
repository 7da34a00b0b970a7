//go:build !linux

package bplustree

import (
	"os"
)

// syncFile 非 linux 平台退化为完整的 fsync
func syncFile(f *os.File) error {
	return f.Sync()
}
