package config

import (
	"fmt"
	"os/user"
	"strconv"

	wire "github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/identity"
	responder "github.com/marmos91/dittopam/pkg/responder/pam"
)

// lookupUser resolves a user name through the system's NSS; replaced in
// tests.
var lookupUser = user.Lookup

// ResponderConfig converts the pam section into the responder policy.
// trusted_users entries that are not numeric are resolved to uids.
func (c *Config) ResponderConfig() (responder.Config, error) {
	uids, err := resolveTrustedUsers(c.PAM.TrustedUsers)
	if err != nil {
		return responder.Config{}, err
	}

	return responder.Config{
		Verbosity:             wire.Verbosity(c.PAM.Verbosity),
		AccountExpiredMessage: c.PAM.AccountExpiredMessage,
		TrustedUIDs:           uids,
		PublicDomains:         c.PAM.PublicDomains,
		CertAuth:              c.PAM.CertAuth,
		IDTimeout:             c.PAM.IDTimeout,
		Offline: identity.Policy{
			CredentialsExpiration: c.PAM.OfflineCredentialsExpiration,
			FailedLoginAttempts:   c.PAM.OfflineFailedLoginAttempts,
			FailedLoginDelay:      c.PAM.OfflineFailedLoginDelay,
		},
	}, nil
}

func resolveTrustedUsers(entries []string) ([]uint32, error) {
	uids := make([]uint32, 0, len(entries))
	for _, e := range entries {
		if n, err := strconv.ParseUint(e, 10, 32); err == nil {
			uids = append(uids, uint32(n))
			continue
		}
		u, err := lookupUser(e)
		if err != nil {
			return nil, fmt.Errorf("pam.trusted_users: %w", err)
		}
		n, err := strconv.ParseUint(u.Uid, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("pam.trusted_users: %s has non-numeric uid %q", e, u.Uid)
		}
		uids = append(uids, uint32(n))
	}
	return uids, nil
}
