package db

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/zulandar/socialdesk/internal/config"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// mysqlDuplicateEntry is the MySQL error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// MySQLDSN builds a MySQL DSN. utf8mb4 keeps astral characters (emoji)
// intact in article bodies.
func MySQLDSN(c config.DatabaseConfig) string {
	auth := c.User
	if c.Password != "" {
		auth += ":" + c.Password
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		auth, c.Host, c.Port, c.Name)
}

// PostgresDSN builds a postgres URL DSN.
func PostgresDSN(c config.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Dialector returns the gorm dialector for the configured driver.
func Dialector(c config.DatabaseConfig) (gorm.Dialector, error) {
	switch c.Driver {
	case config.DriverMySQL:
		return gormmysql.Open(MySQLDSN(c)), nil
	case config.DriverPostgres:
		return postgres.Open(PostgresDSN(c)), nil
	case config.DriverSQLite:
		return sqlite.Open(c.Path), nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", c.Driver)
	}
}

// Connect opens a GORM connection to the configured database. Driver
// duplicate-key errors are translated to gorm.ErrDuplicatedKey.
func Connect(c config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(c)
	if err != nil {
		return nil, err
	}
	db, err := Open(dialector)
	if err != nil {
		return nil, fmt.Errorf("db: connect %s/%s: %w", c.Driver, c.Name, err)
	}
	if c.Driver == config.DriverSQLite {
		// sqlite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: connect %s: %w", c.Path, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Open opens a GORM connection with the shared socialdesk options.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	return gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
}

// IsDuplicateKey reports whether err is a unique-constraint violation from
// any supported driver.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return true
	}
	// sqlite without error translation reports constraint failures as text.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// OpenInMemory opens a migrated in-memory sqlite database. The pool is
// pinned to one connection since every sqlite :memory: connection is a
// separate database.
func OpenInMemory() (*gorm.DB, error) {
	db, err := Open(sqlite.Open(":memory:"))
	if err != nil {
		return nil, fmt.Errorf("db: open in-memory: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: open in-memory: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
