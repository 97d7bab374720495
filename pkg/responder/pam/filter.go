package pam

import (
	"errors"
	"fmt"

	"github.com/marmos91/dittopam/internal/logger"
	wire "github.com/marmos91/dittopam/internal/protocol/pam"
)

// filterResponses marks the items the client must not see at verbosity v.
// Server-only items are always suppressed and logged instead. Malformed
// user-info items are reported but do not stop the pass.
func filterResponses(items []wire.ResponseItem, v wire.Verbosity) error {
	var errs []error
	for i := range items {
		it := &items[i]
		switch {
		case it.Type == wire.RespUserInfo:
			if v == wire.VerbosityNone {
				it.Suppressed = true
				continue
			}
			kind, err := wire.UserInfoKind(it.Payload)
			if err != nil {
				errs = append(errs, fmt.Errorf("item %d: %w", i, err))
				continue
			}
			it.Suppressed = false
			if kind != wire.UserInfoOfflineAuth {
				continue
			}
			expire, ok := wire.OfflineAuthExpire(it.Payload)
			if !ok {
				errs = append(errs, fmt.Errorf("item %d: offline auth payload has %d bytes", i, len(it.Payload)))
				continue
			}
			if (expire == 0 && v < wire.VerbosityInfo) || (expire > 0 && v < wire.VerbosityImportant) {
				it.Suppressed = true
			}

		case it.Type.IsServerInfo():
			it.Suppressed = true
			logger.Debug("Server-only response item",
				"type", fmt.Sprintf("0x%08x", uint32(it.Type)), "len", len(it.Payload))
		}
	}
	return errors.Join(errs...)
}
