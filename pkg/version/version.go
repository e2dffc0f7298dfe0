// Package version holds the build version, overridable at link time:
//
//	go build -ldflags "-X roadspeed/pkg/version.Version=v0.3.0" ./cmd/roadspeed
package version

// Version is the application version.
var Version = "v0.1.0-dev"
