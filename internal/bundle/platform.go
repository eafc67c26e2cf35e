package bundle

import "runtime"

// DefaultPlatform returns the platform segment for the running binary.
func DefaultPlatform() string {
	return PlatformFor(runtime.GOOS, runtime.GOARCH)
}

// PlatformFor maps a GOOS/GOARCH pair to the platform segment the build
// pipeline publishes bundles under. Unknown systems use GOOS itself.
func PlatformFor(goos, goarch string) string {
	switch goos {
	case "windows":
		if goarch == "386" {
			return "StandaloneWindows"
		}
		return "StandaloneWindows64"
	case "darwin":
		return "StandaloneOSX"
	case "linux":
		return "StandaloneLinux64"
	case "android":
		return "Android"
	case "ios":
		return "iOS"
	case "js", "wasip1":
		return "WebGL"
	default:
		return goos
	}
}
