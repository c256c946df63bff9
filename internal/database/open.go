package database

import (
	"fmt"
	"log"
)

const (
	DriverPostgres     = "postgres"
	DriverGormPostgres = "gorm-postgres"
	DriverSqlite       = "sqlite"
)

var Drivers = []string{DriverPostgres, DriverGormPostgres, DriverSqlite}

// Open returns the ChatRepository backend selected by driver.
func Open(driver, dsn string, logger *log.Logger) (ChatRepository, error) {
	switch driver {
	case DriverPostgres:
		return NewPgChatRepository(dsn)
	case DriverGormPostgres, DriverSqlite:
		return NewGormChatRepository(driver, dsn, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
