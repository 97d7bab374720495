package pam

import (
	"strings"

	"github.com/marmos91/dittopam/pkg/authtok"
)

// ResponseItem is one entry of the reply. Suppressed items stay in the list
// but are not serialized.
type ResponseItem struct {
	Type       ResponseType
	Payload    []byte
	Suppressed bool
}

// Request is one decoded PAM call plus the state the responder accumulates
// while servicing it.
type Request struct {
	Command Command

	// LogonName is the name as sent by the client. Domain and User are the
	// result of splitting it against the configured domains.
	LogonName string
	Domain    string
	User      string

	Service string
	TTY     string
	RUser   string
	RHost   string
	Locale  string

	ClientPID uint32
	ChildPID  uint32

	AuthTok    authtok.Token
	NewAuthTok authtok.Token

	// RequestedDomains is the ordered list the client restricted the lookup
	// to. Nil means any domain.
	RequestedDomains []string

	NameIsUPN     bool
	OfflineAuth   bool
	LastAuthSaved bool
	ResponseDelay int

	Responses []ResponseItem
	Status    Status
}

// HasLogonName reports whether the client supplied a user name.
func (r *Request) HasLogonName() bool {
	return r.LogonName != ""
}

// IsDomainRequested reports whether name is allowed by the requested-domains
// list. Matching is case-insensitive; an absent list allows every domain.
func (r *Request) IsDomainRequested(name string) bool {
	if len(r.RequestedDomains) == 0 {
		return true
	}
	for _, d := range r.RequestedDomains {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}

// AddResponse appends an item. The payload is not copied.
func (r *Request) AddResponse(typ ResponseType, payload []byte) {
	r.Responses = append(r.Responses, ResponseItem{Type: typ, Payload: payload})
}

// Wipe zeroes the secrets held by the request.
func (r *Request) Wipe() {
	authtok.Wipe(r.AuthTok)
	authtok.Wipe(r.NewAuthTok)
}
