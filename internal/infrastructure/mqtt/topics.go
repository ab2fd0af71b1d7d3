package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "embedded-vault"

// Topics builds topic names under a prefix.
//
//	topics := mqtt.NewTopics("ci")
//	topics.Lifecycle("3f2a...") // "ci/server/3f2a.../lifecycle"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders for prefix. Surrounding slashes are
// trimmed; an empty prefix means DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic prefix.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// SystemStatus is the retained online/offline topic of this client.
func (t Topics) SystemStatus() string {
	return t.Prefix() + "/system/status"
}

// Lifecycle is the event stream of one server.
func (t Topics) Lifecycle(serverID string) string {
	return t.Prefix() + "/server/" + serverID + "/lifecycle"
}

// State is the retained latest state of one server.
func (t Topics) State(serverID string) string {
	return t.Prefix() + "/server/" + serverID + "/state"
}

// AllLifecycle matches the event streams of every server.
func (t Topics) AllLifecycle() string {
	return t.Prefix() + "/server/+/lifecycle"
}

// AllStates matches the retained states of every server.
func (t Topics) AllStates() string {
	return t.Prefix() + "/server/+/state"
}

// ServerID extracts the server id from a lifecycle or state topic.
func (t Topics) ServerID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix()+"/server/")
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
