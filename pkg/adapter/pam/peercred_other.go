//go:build !linux

package pam

import (
	"errors"
	"net"
)

func peerCredentials(net.Conn) (peer, error) {
	return peer{}, errors.New("peer credentials are only available on linux")
}
