package database

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DatabaseConfig holds connection parameters for the history database
type DatabaseConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	Username     string        `mapstructure:"username" yaml:"username"`
	Password     string        `mapstructure:"password" yaml:"password"`
	Database     string        `mapstructure:"database" yaml:"database"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxOpenConns int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

// SetDefaults fills unset connection parameters
func (dc *DatabaseConfig) SetDefaults() {
	if dc.Port == 0 {
		dc.Port = 3306
	}
	if dc.Timeout <= 0 {
		dc.Timeout = 30 * time.Second
	}
	if dc.MaxOpenConns <= 0 {
		dc.MaxOpenConns = 10
	}
	if dc.MaxIdleConns <= 0 {
		dc.MaxIdleConns = 5
	}
}

// Validate checks if the database configuration has all required parameters
func (dc *DatabaseConfig) Validate() error {
	var problems []string

	if dc.Host == "" {
		problems = append(problems, "host is required")
	}
	if dc.Port <= 0 || dc.Port > 65535 {
		problems = append(problems, "port must be between 1 and 65535")
	}
	if dc.Username == "" {
		problems = append(problems, "username is required")
	}
	if dc.Database == "" {
		problems = append(problems, "database name is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("database configuration validation failed: %v", problems)
	}
	return nil
}

// DSN returns the driver connection string. Times are parsed and stored in UTC.
func (dc *DatabaseConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = dc.Username
	cfg.Passwd = dc.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", dc.Host, dc.Port)
	cfg.DBName = dc.Database
	cfg.Timeout = dc.Timeout
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}
