// Package versions holds the relay version numbers and the API compatibility
// check used by clients.
package versions

import (
	"github.com/Masterminds/semver/v3"
)

// Version is the current version of the relay server.
// The version follows semantic versioning (MAJOR.MINOR.PATCH).
const Version = "0.1.0-alpha.1"

// ApiVersion is the version of the HTTP API.
const ApiVersion = "0.1.0"

// apiConstraint accepts API versions a client built against ApiVersion can talk to.
var apiConstraint *semver.Constraints

func init() {
	var err error
	apiConstraint, err = semver.NewConstraint("^" + ApiVersion)
	if err != nil {
		panic(err)
	}
}

// IsApiVersionCompatible reports whether a server announcing version can be
// used by this build. Returns false for invalid version strings.
func IsApiVersionCompatible(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return apiConstraint.Check(v)
}
