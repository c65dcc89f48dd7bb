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

package nimbusdbconn

import (
	"errors"
	"testing"

	"github.com/nimbusdb/nimbusdb-go-connector/errtype"
	"github.com/nimbusdb/nimbusdb-go-connector/internal/nimbusdb"
)

func TestWithCredentialsFileMissing(t *testing.T) {
	cfg := &dialerConfig{}
	WithCredentialsFile("/does/not/exist.json")(cfg)
	if cfg.err == nil {
		t.Fatal("expected an error for a missing credentials file, got nil")
	}
}

func TestWithUserAgentAppends(t *testing.T) {
	cfg := &dialerConfig{userAgents: []string{"base/1.0"}}
	WithUserAgent("extra/2.0")(cfg)
	if len(cfg.userAgents) != 2 || cfg.userAgents[1] != "extra/2.0" {
		t.Fatalf("userAgents = %v, want [base/1.0 extra/2.0]", cfg.userAgents)
	}
}

func TestWithLazyRefresh(t *testing.T) {
	cfg := &dialerConfig{}
	WithLazyRefresh()(cfg)
	if cfg.refreshStrategy != nimbusdb.RefreshLazy {
		t.Fatalf("refreshStrategy = %v, want %v", cfg.refreshStrategy, nimbusdb.RefreshLazy)
	}
}

func TestWithDriverNameSupported(t *testing.T) {
	cfg := &dialerConfig{userAgents: []string{"base/1.0"}}
	WithDriverName("pgx")(cfg)
	if cfg.err != nil {
		t.Fatalf("expected no error, got = %v", cfg.err)
	}
	if len(cfg.userAgents) != 2 || cfg.userAgents[1] != "+pgx" {
		t.Fatalf("userAgents = %v, want [base/1.0 +pgx]", cfg.userAgents)
	}
}

func TestWithDriverNameUnsupported(t *testing.T) {
	cfg := &dialerConfig{}
	WithDriverName("bogus-driver")(cfg)
	if cfg.err == nil {
		t.Fatal("expected an error for an unsupported driver, got nil")
	}
	var wantErr *errtype.ConfigError
	if !errors.As(cfg.err, &wantErr) {
		t.Fatalf("expected a *errtype.ConfigError, got %T", cfg.err)
	}
	want := "Driver 'bogus-driver' is not a supported database driver."
	if cfg.err.Error() != want {
		t.Fatalf("err = %q, want %q", cfg.err.Error(), want)
	}
}

func TestDialOptionsIPType(t *testing.T) {
	tcs := []struct {
		opt  DialOption
		want nimbusdb.IPType
	}{
		{WithPrivateIP(), nimbusdb.PrivateIP},
		{WithPublicIP(), nimbusdb.PublicIP},
		{WithPSC(), nimbusdb.PSC},
	}
	for _, tc := range tcs {
		cfg := &dialCfg{}
		tc.opt(cfg)
		if cfg.ipType != tc.want {
			t.Errorf("ipType = %v, want %v", cfg.ipType, tc.want)
		}
	}
}

func TestDialOptionsComposition(t *testing.T) {
	cfg := &dialCfg{}
	DialOptions(WithPublicIP(), WithTCPKeepAlive(0))(cfg)
	if cfg.ipType != nimbusdb.PublicIP {
		t.Fatalf("ipType = %v, want PublicIP", cfg.ipType)
	}
}
