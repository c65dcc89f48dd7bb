// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package instance provides parsing for NimbusDB instance URIs.
package instance

import (
	"fmt"
	"regexp"

	"github.com/nimbusdb/nimbusdb-go-connector/errtype"
)

// uriRegex matches URIs of the form:
//
//	projects/<PROJECT>/locations/<REGION>/clusters/<CLUSTER>/instances/<INSTANCE>
//
// The project segment may contain one embedded colon to support legacy
// "domain-scoped" projects (e.g. "google.com:my-project").
var uriRegex = regexp.MustCompile(
	`^projects/([^:]+(:[^:]+)?)/locations/([^:]+)/clusters/([^:]+)/instances/([^:]+)$`,
)

// URI identifies a single NimbusDB instance.
type URI struct {
	Project string
	Region  string
	Cluster string
	Name    string
}

// String returns a compact, log-friendly representation of the URI.
func (u URI) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", u.Project, u.Region, u.Cluster, u.Name)
}

// CanonicalURI returns the canonical "projects/.../instances/..." form.
func (u URI) CanonicalURI() string {
	return fmt.Sprintf(
		"projects/%s/locations/%s/clusters/%s/instances/%s",
		u.Project, u.Region, u.Cluster, u.Name,
	)
}

// ParseURI parses an instance URI, returning a ConfigError if the string
// does not match the expected shape.
func ParseURI(s string) (URI, error) {
	m := uriRegex.FindStringSubmatch(s)
	if m == nil {
		return URI{}, errtype.NewConfigError(
			"invalid instance URI, expected projects/<PROJECT>/locations/<REGION>/clusters/<CLUSTER>/instances/<INSTANCE>",
			s,
		)
	}
	return URI{
		Project: m[1],
		Region:  m[3],
		Cluster: m[4],
		Name:    m[5],
	}, nil
}
