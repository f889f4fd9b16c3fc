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

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// Version возвращает только номер версии (для health-ответа).
func Version() string { return version }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// Fields возвращает версию в виде полей logrus для стартового сообщения.
func Fields() log.Fields {
	return log.Fields{"version": version, "commit": commit, "build_date": date}
}
