package libjail

import "sync/atomic"

// Notification ids are unique across the whole process so a stale id from
// one container can never alias a live one elsewhere.
var lastNotificationId uint64

func nextNotificationId() NotificationId {
	return NotificationId(atomic.AddUint64(&lastNotificationId, 1))
}

// notifBinding ties a container-level notification id to the handler that
// owns the underlying event registration.
type notifBinding struct {
	handler   ResourceHandler
	handlerId NotificationId
}
