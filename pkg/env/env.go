package env

import (
	"fmt"
	"net/http"

	"github.com/carlmjohnson/versioninfo"
)

// Version is the build version reported by the service, in User-Agent
// strings, and by the health and version endpoints.
func Version() string {
	return versioninfo.Short()
}

// UserAgent combines an application display name with the build version.
func UserAgent(appName string) string {
	if appName == "" {
		return "ghapp-broker/" + Version()
	}
	return fmt.Sprintf("%s (ghapp-broker/%s)", appName, Version())
}

func VersionHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "%s\n", Version()) // nolint:errcheck
}
