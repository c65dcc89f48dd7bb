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

package instance

import "testing"

func TestParseURI(t *testing.T) {
	tcs := []struct {
		desc string
		in   string
		want URI
	}{
		{
			desc: "vanilla instance URI",
			in:   "projects/proj/locations/reg/clusters/clust/instances/name",
			want: URI{Project: "proj", Region: "reg", Cluster: "clust", Name: "name"},
		},
		{
			desc: "with legacy domain-scoped project",
			in:   "projects/google.com:proj/locations/reg/clusters/clust/instances/name",
			want: URI{Project: "google.com:proj", Region: "reg", Cluster: "clust", Name: "name"},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := ParseURI(tc.in)
			if err != nil {
				t.Fatalf("want no error, got = %v", err)
			}
			if got != tc.want {
				t.Fatalf("want = %+v, got = %+v", tc.want, got)
			}
		})
	}
}

func TestParseURIErrors(t *testing.T) {
	tcs := []struct {
		desc string
		in   string
	}{
		{desc: "malformatted", in: "not-correct"},
		{desc: "missing project", in: "locations/reg/clusters/clust/instances/name"},
		{desc: "missing cluster", in: "projects/proj/locations/reg/instances/name"},
		{desc: "empty", in: ""},
		{
			desc: "embedded in extra text",
			in:   "garbage-projects/p/locations/r/clusters/c/instances/i-garbage",
		},
		{desc: "leading garbage", in: "xprojects/proj/locations/reg/clusters/clust/instances/name"},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := ParseURI(tc.in)
			if err == nil {
				t.Fatal("want error, got nil")
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	in := "projects/google.com:proj/locations/reg/clusters/clust/instances/name"
	u, err := ParseURI(in)
	if err != nil {
		t.Fatalf("ParseURI(%q) failed: %v", in, err)
	}
	u2, err := ParseURI(u.CanonicalURI())
	if err != nil {
		t.Fatalf("ParseURI(%q) failed: %v", u.CanonicalURI(), err)
	}
	if u != u2 {
		t.Fatalf("round trip mismatch: want = %+v, got = %+v", u, u2)
	}
}
