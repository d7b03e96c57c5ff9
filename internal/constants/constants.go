package constants

const (
	AppName    = "nfp-bootloader"
	ConfigFile = "config.yaml"
	CacheFile  = "cache.db"
	BackupFile = "cache_backup.json"

	FilePerm      = 0o600
	DirectoryPerm = 0o700

	// Cache key holding the base64 private key. One per profile, shared across token locations.
	SecretKeyKey = "sk"

	// Per token location key prefixes: <prefix>:<chain>:<contract>:<token>.
	OwnerKeyPrefix      = "toa"
	ViewingKeyKeyPrefix = "tvk"
	PermitKeyPrefix     = "tqp"

	// AAD for encrypted cache backups (must match on restore).
	BackupAAD = "nfp-bootloader:cache-backup:v1"

	DefaultHRP      = "secret"
	DefaultMainPkg  = "app"
	DefaultMainTag  = "1.x"
	DevScriptSuffix = ".dev.js"
)
