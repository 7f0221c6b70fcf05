// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux || darwin || freebsd || netbsd || openbsd

package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

func hostSysInfo() SysInfo {
	info := SysInfo{Privileged: os.Geteuid() == 0}
	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		info.Release = unix.ByteSliceToString(uts.Sysname[:]) + " " + unix.ByteSliceToString(uts.Release[:])
	}
	return info
}
