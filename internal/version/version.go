// Package version хранит сведения о сборке, заданные через -ldflags.
package version

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// GetCommit возвращает хеш коммита.
func GetCommit() string { return commit }

// GetDate возвращает дату сборки.
func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// Fields: поля сборки для стартовой записи лога.
func Fields() log.Fields {
	return log.Fields{
		"version":    version,
		"commit":     commit,
		"build_date": date,
	}
}

// ClientID собирает Kafka client.id вида shawlshop-<component>-<version>.
// sarama принимает только [A-Za-z0-9._-], остальные символы заменяются на '_'.
func ClientID(component string) string {
	raw := "shawlshop-" + strings.TrimSpace(component) + "-" + version
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, raw)
}
