package config

import (
	"fmt"
	"strings"
)

// DatabaseConfig configures the relational store.
//
// Example YAML:
//
//	database:
//	  driver: postgres
//	  host: db.internal
//	  port: 5432
//	  database: concierge
//	  username: ${DB_USER}
//	  password: ${DB_PASSWORD}
type DatabaseConfig struct {
	// Driver is "sqlite", "postgres" or "mysql".
	Driver string `yaml:"driver"`

	// Path is the database file for sqlite.
	Path string `yaml:"path,omitempty"`

	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`

	// MaxConns bounds the connection pool.
	MaxConns int `yaml:"max_conns,omitempty"`

	// MaxIdle is the minimum number of warm connections kept around.
	MaxIdle int `yaml:"max_idle,omitempty"`
}

func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.Driver == "sqlite" && c.Path == "" {
		c.Path = "concierge.db"
	}
	if c.Port == 0 {
		switch c.Driver {
		case "postgres":
			c.Port = 5432
		case "mysql":
			c.Port = 3306
		}
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 2
	}
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "sqlite":
		if c.Path == "" {
			return fmt.Errorf("sqlite requires a path")
		}
	case "postgres", "mysql":
		if c.Host == "" || c.Database == "" {
			return fmt.Errorf("%s requires host and database", c.Driver)
		}
	default:
		return fmt.Errorf("unsupported driver: %s (supported: sqlite, postgres, mysql)", c.Driver)
	}
	return nil
}

// DriverName maps the config driver to the database/sql driver name.
func (c *DatabaseConfig) DriverName() string {
	if c.Driver == "sqlite" {
		return "sqlite3"
	}
	return c.Driver
}

// ConnectionString builds the DSN for the configured driver.
func (c *DatabaseConfig) ConnectionString() string {
	switch c.Driver {
	case "sqlite":
		// Busy timeout keeps concurrent writers from failing immediately;
		// foreign keys enforce the session -> message/escalation ownership.
		if strings.Contains(c.Path, "?") {
			return c.Path
		}
		return c.Path + "?_busy_timeout=5000&_foreign_keys=on"
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.Username, c.Password, c.Host, c.Port, c.Database)
	default:
		return ""
	}
}
