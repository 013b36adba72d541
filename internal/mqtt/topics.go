package mqtt

import "fmt"

// Topics derives the topic layout: one subtree per panel session.
type Topics struct {
	prefix string
}

func NewTopics(prefix string) *Topics {
	return &Topics{prefix: prefix}
}

func (t *Topics) Status() string {
	return fmt.Sprintf("%s/status", t.prefix)
}

func (t *Topics) Log() string {
	return fmt.Sprintf("%s/log", t.prefix)
}

func (t *Topics) Partition(sessionID string, number uint8) string {
	return fmt.Sprintf("%s/%s/partition/%d", t.prefix, sessionID, number)
}

func (t *Topics) PartitionCommand(sessionID string, number uint8) string {
	return fmt.Sprintf("%s/%s/partition/%d/command", t.prefix, sessionID, number)
}

func (t *Topics) Zone(sessionID string, number uint16) string {
	return fmt.Sprintf("%s/%s/zone/%d", t.prefix, sessionID, number)
}

// CommandPattern matches every partition command topic.
func (t *Topics) CommandPattern() string {
	return fmt.Sprintf("%s/+/partition/+/command", t.prefix)
}
