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

package wire

import "testing"

func TestRequestRoundTrip(t *testing.T) {
	tcs := []*Request{
		{UserAgent: "nimbusdb-go-connector/0.1.0", AuthType: DBNative, Oauth2Token: "tok-123"},
		{UserAgent: "nimbusdb-go-connector/0.1.0", AuthType: AutoIAM},
		{},
	}
	for _, want := range tcs {
		got, err := UnmarshalRequest(want.Marshal())
		if err != nil {
			t.Fatalf("UnmarshalRequest(%+v): %v", want, err)
		}
		if *got != *want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	tcs := []*Response{
		{ResponseCode: OK},
		{ResponseCode: Error, Error: "invalid client certificate"},
	}
	for _, want := range tcs {
		got, err := UnmarshalResponse(want.Marshal())
		if err != nil {
			t.Fatalf("UnmarshalResponse(%+v): %v", want, err)
		}
		if *got != *want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	}
}

func TestAuthTypeString(t *testing.T) {
	if DBNative.String() != "DB_NATIVE" {
		t.Errorf("DBNative.String() = %q, want DB_NATIVE", DBNative.String())
	}
	if AutoIAM.String() != "AUTO_IAM" {
		t.Errorf("AutoIAM.String() = %q, want AUTO_IAM", AutoIAM.String())
	}
}
