package ha

import (
	"fmt"
	"strings"
)

// EntityDomain returns the part of an entity id before the dot
func EntityDomain(entityID string) string {
	domain, _, ok := strings.Cut(entityID, ".")
	if !ok {
		return ""
	}
	return domain
}

// CreateNotification raises or replaces a persistent notification
func CreateNotification(c HAClient, notificationID, title, message string) error {
	return c.CallService("persistent_notification", "create", map[string]any{
		"notification_id": notificationID,
		"title":           title,
		"message":         message,
	})
}

// DismissNotification removes a persistent notification
func DismissNotification(c HAClient, notificationID string) error {
	return c.CallService("persistent_notification", "dismiss", map[string]any{
		"notification_id": notificationID,
	})
}

// TurnOff switches a toggle entity such as an input_boolean back off
func TurnOff(c HAClient, entityID string) error {
	domain := EntityDomain(entityID)
	if domain == "" {
		return fmt.Errorf("invalid entity id %q", entityID)
	}
	return c.CallService(domain, "turn_off", map[string]any{
		"entity_id": entityID,
	})
}
