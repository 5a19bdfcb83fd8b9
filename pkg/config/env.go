package config

const (
	EnvPrefix = "CONTENTSTUDIO"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "CONTENTSTUDIO_APP_ENV"
	EnvPort     = "CONTENTSTUDIO_APP_PORT"
	EnvLogLevel = "CONTENTSTUDIO_LOG_LEVEL"

	EnvDBDSN  = "CONTENTSTUDIO_DB_DSN"
	EnvDBHost = "CONTENTSTUDIO_DB_HOST"
	EnvDBUser = "CONTENTSTUDIO_DB_USER"
	EnvDBName = "CONTENTSTUDIO_DB_NAME"

	EnvRedisURL = "CONTENTSTUDIO_REDIS_URL"

	EnvJWTSecret  = "CONTENTSTUDIO_JWT_SECRET"
	EnvJWTIssuer  = "CONTENTSTUDIO_JWT_ISSUER"
	EnvJWTExpMins = "CONTENTSTUDIO_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID = "CONTENTSTUDIO_GCP_PROJECT_ID"

	EnvPubSubNotificationSub = "CONTENTSTUDIO_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPubSubAnalyticsSub    = "CONTENTSTUDIO_PUBSUB_ANALYTICS_SUBSCRIPTION"

	EnvSchedulerLookahead = "CONTENTSTUDIO_SCHEDULER_LOOKAHEAD"
	EnvReconcileStale     = "CONTENTSTUDIO_RECONCILE_STALE_AFTER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
