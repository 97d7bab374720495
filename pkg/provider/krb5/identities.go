package krb5

import (
	"strings"
)

// identityMap resolves a logon name to a configured identity.
//
// Principals in Config.Identities may be written "user@REALM" or "user";
// both forms, and every alias, match case-insensitively. Principals not listed
// get the default uid and gid when MapUnknown is set.
type identityMap struct {
	realm      string
	byName     map[string]namedIdentity
	mapUnknown bool
	defaultUID uint32
	defaultGID uint32
}

type namedIdentity struct {
	name string
	id   StaticIdentity
}

func newIdentityMap(cfg *Config) *identityMap {
	m := &identityMap{
		realm:      cfg.Realm,
		byName:     make(map[string]namedIdentity, len(cfg.Identities)),
		mapUnknown: cfg.MapUnknown,
		defaultUID: cfg.DefaultUID,
		defaultGID: cfg.DefaultGID,
	}
	for _, id := range cfg.Identities {
		name := id.Principal
		if at := strings.LastIndex(name, "@"); at > 0 {
			if !strings.EqualFold(name[at+1:], cfg.Realm) {
				continue
			}
			name = name[:at]
		}
		entry := namedIdentity{name: name, id: id}
		m.byName[strings.ToLower(name)] = entry
		for _, alias := range id.Aliases {
			if _, taken := m.byName[strings.ToLower(alias)]; !taken {
				m.byName[strings.ToLower(alias)] = entry
			}
		}
	}
	return m
}

// resolve returns the primary name and identity for name. For a UPN the
// realm part must be the backend's realm.
func (m *identityMap) resolve(name string, isUPN bool) (string, StaticIdentity, bool) {
	if isUPN || strings.Contains(name, "@") {
		at := strings.LastIndex(name, "@")
		if at <= 0 || !strings.EqualFold(name[at+1:], m.realm) {
			return "", StaticIdentity{}, false
		}
		name = name[:at]
	}
	if name == "" {
		return "", StaticIdentity{}, false
	}

	if entry, ok := m.byName[strings.ToLower(name)]; ok {
		return entry.name, entry.id, true
	}
	if m.mapUnknown {
		return name, StaticIdentity{UID: m.defaultUID, GID: m.defaultGID}, true
	}
	return "", StaticIdentity{}, false
}
