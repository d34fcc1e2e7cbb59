package main

import (
	"fmt"
	"os"
)

// myUserAndGroup returns the UID and GID of this process, for stamping
// onto every inode driftfs presents to the kernel (spec.md §3's Attribute
// Record has no server-side owner; the mount itself decides who owns the
// tree it renders locally).
func myUserAndGroup() (uid, gid uint32, err error) {
	signedUID := os.Getuid()
	signedGID := os.Getgid()

	if signedUID < 0 || signedGID < 0 {
		return 0, 0, fmt.Errorf("failed to get uid/gid: uid=%d gid=%d", signedUID, signedGID)
	}

	return uint32(signedUID), uint32(signedGID), nil
}
