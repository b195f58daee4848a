package session

import "strings"

// State key prefixes scope values beyond a single session. App and user
// scoped values are merged into session reads under their prefixed keys;
// temp values live only for the current invocation and are never
// persisted.
const (
	StateAppPrefix  = "app:"
	StateUserPrefix = "user:"
	StateTempPrefix = "temp:"
)

// IsAppKey reports whether the key is app-scoped.
func IsAppKey(key string) bool {
	return strings.HasPrefix(key, StateAppPrefix)
}

// IsUserKey reports whether the key is user-scoped.
func IsUserKey(key string) bool {
	return strings.HasPrefix(key, StateUserPrefix)
}

// IsTempKey reports whether the key is invocation-scoped.
func IsTempKey(key string) bool {
	return strings.HasPrefix(key, StateTempPrefix)
}
