package config

// Variable names carry their own prefix in the struct tags, so envconfig runs
// without an extra one.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "PREPMARKET_APP_ENV"
	EnvPort     = "PREPMARKET_APP_PORT"
	EnvLogLevel = "PREPMARKET_LOG_LEVEL"

	EnvDBDSN  = "PREPMARKET_DB_DSN"
	EnvDBHost = "PREPMARKET_DB_HOST"
	EnvDBUser = "PREPMARKET_DB_USER"
	EnvDBName = "PREPMARKET_DB_NAME"

	EnvRedisURL  = "PREPMARKET_REDIS_URL"
	EnvJWTSecret = "PREPMARKET_JWT_SECRET"
	EnvJWTIssuer = "PREPMARKET_JWT_ISSUER"

	EnvSettlementHoldingWindow = "PREPMARKET_SETTLEMENT_HOLDING_WINDOW"
	EnvWithdrawalFeePercent    = "PREPMARKET_WITHDRAWAL_FEE_PERCENT"
	EnvWithdrawalMinFee        = "PREPMARKET_WITHDRAWAL_MIN_FEE_CENTS"
	EnvWithdrawalMinAmount     = "PREPMARKET_WITHDRAWAL_MIN_AMOUNT_CENTS"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
