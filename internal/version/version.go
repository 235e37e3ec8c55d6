// Package version хранит сведения о сборке. Значения проставляются через
// -ldflags "-X github.com/vladislavdragonenkov/backoffice/internal/version.version=...".
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GetVersion возвращает версию сборки, по умолчанию "dev".
func GetVersion() string { return version }

// String - однострочное описание сборки для логов и /health.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// Fields возвращает сведения о сборке как поля logrus.
func Fields() log.Fields {
	return log.Fields{"version": version, "commit": commit, "build_date": date}
}

// UserAgent возвращает User-Agent для исходящих запросов утилиты tool.
func UserAgent(tool string) string {
	return fmt.Sprintf("backoffice-%s/%s", tool, version)
}
