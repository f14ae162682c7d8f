package amqp

import (
	"fmt"
	"strings"

	"kidbank/internal/realtime"
)

const routingPrefix = "family"

// ChangeRoutingKey addresses a change event on the topic exchange as
// family.<family id>.<table>.
func ChangeRoutingKey(familyID string, table realtime.Table) string {
	return routingPrefix + "." + familyID + "." + string(table)
}

// FamilyBindingKey matches every table of one family.
func FamilyBindingKey(familyID string) string {
	return routingPrefix + "." + familyID + ".*"
}

// ParseChangeRoutingKey is the inverse of ChangeRoutingKey.
func ParseChangeRoutingKey(key string) (familyID string, table realtime.Table, err error) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 || parts[0] != routingPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("malformed routing key %q", key)
	}
	return parts[1], realtime.Table(parts[2]), nil
}
