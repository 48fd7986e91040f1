package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr      string
	JWTSecret string
	JWTTTLMin int
	DBDriver  string
	SQLITEDsn string
	PGDsn     string
	// Web Push (VAPID) config
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	// SendGrid config
	SendGridAPIKey string
	SendGridFrom   string
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func MustLoad() Config {
	jwtttl, _ := strconv.Atoi(getenv("JWT_TTL_MIN", "1440"))

	cfg := Config{
		Addr:            getenv("HTTP_ADDR", ":8080"),
		JWTSecret:       getenv("JWT_SECRET", ""),
		JWTTTLMin:       jwtttl,
		DBDriver:        getenv("DB_DRIVER", "sqlite"),
		SQLITEDsn:       getenv("SQLITE_DSN", "file:sunomsi.db?_pragma=foreign_keys(ON)"),
		PGDsn:           getenv("POSTGRES_DSN", ""),
		VAPIDPublicKey:  getenv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getenv("VAPID_PRIVATE_KEY", ""),
		VAPIDSubject:    getenv("VAPID_SUBJECT", "mailto:admin@sunomsi.com"),
		SendGridAPIKey:  getenv("SENDGRID_API_KEY", ""),
		SendGridFrom:    getenv("SENDGRID_FROM", ""),
	}
	return cfg
}
