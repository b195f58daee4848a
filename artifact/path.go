package artifact

import (
	"fmt"
	"strings"
)

const userNamespacePrefix = "user:"

// HasUserNamespace reports whether the filename is user scoped.
// User-scoped filenames carry the "user:" prefix and outlive the session.
func HasUserNamespace(filename string) bool {
	return strings.HasPrefix(filename, userNamespacePrefix)
}

func BuildPath(sessionInfo SessionInfo, filename string) string {
	if HasUserNamespace(filename) {
		return fmt.Sprintf("%s/%s/user/%s", sessionInfo.AppName, sessionInfo.UserID, filename)
	}
	return fmt.Sprintf("%s/%s/%s/%s", sessionInfo.AppName, sessionInfo.UserID, sessionInfo.SessionID, filename)
}

func BuildSessionPrefix(sessionInfo SessionInfo) string {
	return fmt.Sprintf("%s/%s/%s/", sessionInfo.AppName, sessionInfo.UserID, sessionInfo.SessionID)
}

func BuildUserNamespacePrefix(sessionInfo SessionInfo) string {
	return fmt.Sprintf("%s/%s/user/", sessionInfo.AppName, sessionInfo.UserID)
}
