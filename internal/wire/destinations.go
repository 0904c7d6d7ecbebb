// Package wire defines the STOMP-like frame protocol and message envelopes
// exchanged with the collaboration broker over a single duplex websocket.
package wire

import "fmt"

// Destinations follow the broker's addressing scheme: app/ prefixes are
// client-to-server sends, topic/ prefixes are broadcast subscriptions, and
// user/topic/ is the client-private reply channel.

func EditJoinDestination(groupID, planID string) string {
	return fmt.Sprintf("app/groups/%s/plans/%s/edit/join", groupID, planID)
}

func EditLeaveDestination(groupID, planID string) string {
	return fmt.Sprintf("app/groups/%s/plans/%s/edit/leave", groupID, planID)
}

func EditOpDestination(groupID, planID string) string {
	return fmt.Sprintf("app/groups/%s/plans/%s/edit/op", groupID, planID)
}

func EditSaveDestination(groupID, planID string) string {
	return fmt.Sprintf("app/groups/%s/plans/%s/edit/save", groupID, planID)
}

// EditTopic carries applied-operation broadcasts for one document.
func EditTopic(groupID, planID string) string {
	return fmt.Sprintf("topic/groups/%s/plans/%s/edit", groupID, planID)
}

// PlanTopic carries document-wide presence and control events.
func PlanTopic(groupID, planID string) string {
	return fmt.Sprintf("topic/groups/%s/plans/%s", groupID, planID)
}

// UserTopic is the client-private reply channel delivering join-response
// and saved acknowledgments to the originating client only.
func UserTopic(groupID, planID string) string {
	return fmt.Sprintf("user/topic/groups/%s/plans/%s", groupID, planID)
}
