package commands

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	wire "github.com/marmos91/dittopam/internal/protocol/pam"
)

func TestDescribeItem(t *testing.T) {
	tests := []struct {
		name     string
		item     wire.ResponseItem
		wantType string
		want     string
	}{
		{
			name:     "domain name",
			item:     wire.ResponseItem{Type: wire.RespDomainName, Payload: wire.DomainNamePayload("corp.example")},
			wantType: "DOMAIN_NAME",
			want:     "corp.example",
		},
		{
			name:     "cert info",
			item:     wire.ResponseItem{Type: wire.RespCertInfo, Payload: wire.CertInfoPayload("alice", "PIV Card")},
			wantType: "CERT_INFO",
			want:     "alice / PIV Card",
		},
		{
			name:     "offline auth without expiry",
			item:     wire.ResponseItem{Type: wire.RespUserInfo, Payload: wire.OfflineAuthPayload(0)},
			wantType: "USER_INFO",
			want:     "offline_auth, cached credentials do not expire",
		},
		{
			name:     "offline chpass",
			item:     wire.ResponseItem{Type: wire.RespUserInfo, Payload: wire.OfflineChpassPayload()},
			wantType: "USER_INFO",
			want:     "offline_chpass",
		},
		{
			name:     "account expired",
			item:     wire.ResponseItem{Type: wire.RespUserInfo, Payload: wire.AccountExpiredPayload("contact IT")},
			wantType: "USER_INFO",
			want:     "account_expired: contact IT",
		},
		{
			name:     "unknown type",
			item:     wire.ResponseItem{Type: 0x42, Payload: []byte{0xde, 0xad}},
			wantType: "0x00000042",
			want:     "dead",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describeItem(tt.item)
			if got.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", got.Type, tt.wantType)
			}
			if got.Value != tt.want {
				t.Errorf("Value = %q, want %q", got.Value, tt.want)
			}
		})
	}
}

func TestDescribeOfflineAuthDelayed(t *testing.T) {
	got := describeItem(wire.ResponseItem{Type: wire.RespUserInfo, Payload: wire.OfflineAuthDelayedPayload(1700000000)})
	if !strings.HasPrefix(got.Value, "offline_auth_delayed, retry after ") {
		t.Errorf("Value = %q", got.Value)
	}
}

func TestNewAuthResult(t *testing.T) {
	r := newAuthResult(wire.CmdAcctMgmt, wire.Version3, wire.StatusPermDenied, nil)
	if r.Command != "ACCT_MGMT" || r.Status != "PAM_PERM_DENIED" || r.Code != 6 || r.Protocol != 3 {
		t.Errorf("newAuthResult() = %+v", r)
	}
}

func TestAuthCommandsCoverPAMOperations(t *testing.T) {
	seen := make(map[wire.Command]bool)
	for _, c := range authCommands {
		if !c.IsPAM() {
			t.Errorf("%s is not a PAM operation", c)
		}
		seen[c] = true
	}
	for c := wire.CmdAuthenticate; c <= wire.CmdPreauth; c++ {
		if !seen[c] {
			t.Errorf("%s has no --command name", c)
		}
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != ExitOK {
		t.Errorf("ExitCode(nil) = %d", got)
	}
	if got := ExitCode(errors.New("connect: no such file")); got != ExitError {
		t.Errorf("ExitCode(error) = %d", got)
	}
	wrapped := fmt.Errorf("auth: %w", &StatusError{Command: wire.CmdAuthenticate, Status: wire.StatusAuthErr})
	if got := ExitCode(wrapped); got != ExitPAMFailure {
		t.Errorf("ExitCode(StatusError) = %d", got)
	}
	if msg := wrapped.Error(); !strings.Contains(msg, "AUTHENTICATE returned PAM_AUTH_ERR") {
		t.Errorf("Error() = %q", msg)
	}
}
