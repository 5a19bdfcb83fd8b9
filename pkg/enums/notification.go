package enums

// NotificationType maps to the notification type column.
type NotificationType string

const (
	NotificationJobCompleted        NotificationType = "job_completed"
	NotificationJobFailed           NotificationType = "job_failed"
	NotificationPublishSuccess      NotificationType = "publish_success"
	NotificationPublishFailed       NotificationType = "publish_failed"
	NotificationAutomationCompleted NotificationType = "automation_completed"
	NotificationAutomationFailed    NotificationType = "automation_failed"
	NotificationLowCredits          NotificationType = "low_credits"
)

var notificationTypes = closed[NotificationType]{
	NotificationJobCompleted,
	NotificationJobFailed,
	NotificationPublishSuccess,
	NotificationPublishFailed,
	NotificationAutomationCompleted,
	NotificationAutomationFailed,
	NotificationLowCredits,
}

func (n NotificationType) IsValid() bool { return notificationTypes.has(n) }
