// Package version holds build identifiers, overridable with
// -ldflags "-X github.com/edgecomet/eventpipe/internal/common/version.Version=1.2.3".
package version

var (
	// Name is the default client name reported in User-Agent headers
	Name = "EventPipeGo"
	// Version of this build
	Version = "0.1.0"
)

// UserAgent formats "<name>/<version>". An empty name falls back to Name.
func UserAgent(name string) string {
	if name == "" {
		name = Name
	}
	return name + "/" + Version
}
