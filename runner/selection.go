package runner

import (
	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/session"
)

// selectActiveAgent decides which agent of the tree handles the next
// turn. It scans the session's events newest to oldest, skipping
// user-authored ones, and selects the first author that is either the
// root or a sub-agent whose whole ancestor chain permits upward
// transfer. When no author qualifies it falls back to the root.
func selectActiveAgent(root agent.Agent, sess *session.Session) agent.Agent {
	if sess == nil {
		return root
	}
	rootName := root.Info().Name
	events := sess.GetEvents()
	for i := len(events) - 1; i >= 0; i-- {
		author := events[i].Author
		if author == "" || author == authorUser {
			continue
		}
		if author == rootName {
			return root
		}
		path := agent.FindAgentPath(root, author)
		if path == nil {
			continue
		}
		if chainPermitsTransfer(path) {
			return path[len(path)-1]
		}
	}
	return root
}

// chainPermitsTransfer reports whether every agent on the root-to-
// candidate path supports delegation and, below the root, permits
// transferring control back to its parent.
func chainPermitsTransfer(path []agent.Agent) bool {
	for i, node := range path {
		policy, ok := node.(agent.TransferPolicy)
		if !ok {
			return false
		}
		if i > 0 && policy.DisallowTransferToParent() {
			return false
		}
	}
	return true
}
