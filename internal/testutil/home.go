// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"runtime"
	"testing"
)

// SetHomeDir points the platform's home and user config directories at dir
// and returns a cleanup function restoring them.
//
//	t.Cleanup(testutil.SetHomeDir(t, t.TempDir()))
func SetHomeDir(t testing.TB, dir string) func() {
	t.Helper()

	var restore []func()
	switch runtime.GOOS {
	case "windows":
		restore = append(restore, MustSetenv(t, "USERPROFILE", dir), MustSetenv(t, "APPDATA", dir))
	default:
		restore = append(restore, MustSetenv(t, "HOME", dir), MustSetenv(t, "XDG_CONFIG_HOME", dir))
	}
	return func() {
		for i := len(restore) - 1; i >= 0; i-- {
			restore[i]()
		}
	}
}
