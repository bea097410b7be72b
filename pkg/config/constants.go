package config

// EnvPrefix is the envconfig prefix shared by every service binary.
const EnvPrefix = "SOLARA"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

// Environment variable names referenced outside struct tags.
const (
	EnvAppEnv     = "SOLARA_APP_ENV"
	EnvPort       = "SOLARA_APP_PORT"
	EnvDBDSN      = "SOLARA_DB_DSN"
	EnvDBHost     = "SOLARA_DB_HOST"
	EnvDBUser     = "SOLARA_DB_USER"
	EnvDBName     = "SOLARA_DB_NAME"
	EnvRedisURL   = "SOLARA_REDIS_URL"
	EnvJWTSecret  = "SOLARA_JWT_SECRET"
	EnvJWTIssuer  = "SOLARA_JWT_ISSUER"
	EnvJWTExpMins = "SOLARA_JWT_EXPIRATION_MINUTES"

	EnvMercadoPagoAccessToken = "SOLARA_MERCADOPAGO_ACCESS_TOKEN"
	EnvGCPProjectID           = "SOLARA_GCP_PROJECT_ID"
	EnvPubSubDomainTopic      = "SOLARA_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubDomainSub        = "SOLARA_PUBSUB_DOMAIN_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
