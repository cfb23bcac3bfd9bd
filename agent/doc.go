// Package agent provides the public domain types of a swarm session.
//
// Agents are identified by an ID assigned at spawn, carry the tier of the
// role they were spawned with, and move through a small lifecycle:
//
//	spawned -> running -> (waiting | blocked) -> running -> closed
//
// with failed reachable from any non-terminal status. The registry owns
// agent records; callers only ever see Summary values.
//
// # Messages
//
// Messages are the unit of inter-agent communication. The payload is opaque
// JSON; the router stamps the recipient sequence number and send time:
//
//	msg, err := agent.NewMessage("finding", map[string]string{"path": "cmd/main.go"})
//	if err != nil {
//	    return err
//	}
//	msg.WithMetadata("priority", "high")
package agent
