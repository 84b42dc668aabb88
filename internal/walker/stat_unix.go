//go:build unix

package walker

import (
	"os"
	"syscall"
)

func statTimes(info os.FileInfo) (mtime, atime, ctime int64, uid, gid uint32) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime().Unix(), 0, 0, 0, 0
	}
	return info.ModTime().Unix(), int64(st.Atim.Sec), int64(st.Ctim.Sec), st.Uid, st.Gid
}
