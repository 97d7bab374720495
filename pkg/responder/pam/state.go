package pam

// State is the stage a request has reached. A request moves forward through
// the stages in declaration order, possibly skipping some, and may enter
// ProviderRefresh at most once.
type State int

const (
	StateReceived State = iota
	StateParsing
	StateDomainNegCheck
	StateProviderRefresh
	StateCertResolution
	StatePolicyCheck
	StateCacheAuth
	StateProviderAuth
	StateLocalAuth
	StateDelay
	StateReply
)

var stateNames = [...]string{
	StateReceived:        "received",
	StateParsing:         "parsing",
	StateDomainNegCheck:  "domain_negcheck",
	StateProviderRefresh: "provider_refresh",
	StateCertResolution:  "cert_resolution",
	StatePolicyCheck:     "policy_check",
	StateCacheAuth:       "cache_auth",
	StateProviderAuth:    "provider_auth",
	StateLocalAuth:       "local_auth",
	StateDelay:           "delay",
	StateReply:           "reply",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
