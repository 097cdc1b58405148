// SPDX-License-Identifier: MIT
//
// Package build exposes the version metadata linked into the radio binary:
//
//	go build -ldflags "-X radio/pkg/build.buildName=radio \
//	  -X radio/pkg/build.buildVersion=0.3.0 \
//	  -X radio/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	  -X radio/pkg/build.buildTime=$(date -u +%FT%TZ)"
package build

import (
	"fmt"
	"strings"
)

// Description is the one-line summary shown in CLI help.
const Description = "Narrowband FM receiver for RTL2832U dongles"

// Info describes the running binary.
type Info struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	info         = &Info{
		Name:    "radio",
		Time:    "unknown",
		Commit:  "unknown",
		Version: "dev",
	}
)

// Initialize copies the linked values into Info. Flags that were not linked
// keep their development defaults and are reported together in the error.
func Initialize() error {
	var missing []string
	set := func(flag, value string, dst *string) {
		if value == "" {
			missing = append(missing, flag)
			return
		}
		*dst = value
	}
	set("buildName", buildName, &info.Name)
	set("buildTime", buildTime, &info.Time)
	set("buildCommit", buildCommit, &info.Commit)
	set("buildVersion", buildVersion, &info.Version)

	if len(missing) > 0 {
		return fmt.Errorf("build flags not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Get returns the build information.
func Get() *Info {
	return info
}
