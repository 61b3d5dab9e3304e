// Package version executes and returns the version string
// for the currently running process.
package version

import (
	"fmt"
	"time"
)

// semanticVersion is the Major.Minor.Patch version reported by the
// per-service version resources.
const semanticVersion = "1.0.2"

// The value of these vars are set through linker options.
var gitCommit = "Local build"
var buildDate = "Moments ago"

// Version returns the version string of this build.
func Version() string {
	if buildDate == "{DATE}" {
		now := time.Now().Format(time.RFC3339)
		buildDate = now
	}
	return fmt.Sprintf("eidaws/%s/%s. Built at: %s", semanticVersion, gitCommit, buildDate)
}

// SemanticVersion returns the Major.Minor.Patch version of this build.
func SemanticVersion() string {
	return semanticVersion
}
