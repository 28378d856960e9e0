//go:build linux

package storage

import (
	"fmt"
	"syscall"
)

// statfs f_type magic numbers for the network filesystems we care about.
var linuxMagic = map[int64]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
	0x01021997: "9p",
	0x65735546: "fuse.sshfs",
}

func filesystemType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs: %w", err)
	}
	magic := int64(st.Type) & 0xFFFFFFFF
	if name, ok := linuxMagic[magic]; ok {
		return name, nil
	}
	return fmt.Sprintf("0x%x", magic), nil
}
