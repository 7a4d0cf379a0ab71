package database

import "fmt"

// Config holds Postgres connection settings. Two roles connect to the same
// database: rls_user is subject to the row-level policies, unrestricted_user
// bypasses them and serves root contexts only.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`

	RLSUser      string `mapstructure:"rls_user"`
	RLSPassword  string `mapstructure:"rls_password"`
	RootUser     string `mapstructure:"root_user"`
	RootPassword string `mapstructure:"root_password"`

	MaxOpenConns int `mapstructure:"max_open_conns"`
	MaxIdleConns int `mapstructure:"max_idle_conns"`
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         5432,
		Database:     "foreman",
		SSLMode:      "disable",
		RLSUser:      "rls_user",
		RootUser:     "unrestricted_user",
		MaxOpenConns: 20,
		MaxIdleConns: 5,
	}
}

func (c Config) dsn(user, password string) string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, user, password, c.Database, sslMode)
}

// RLSDSN is the DSN for the policy-bound role
func (c Config) RLSDSN() string { return c.dsn(c.RLSUser, c.RLSPassword) }

// RootDSN is the DSN for the unrestricted role
func (c Config) RootDSN() string { return c.dsn(c.RootUser, c.RootPassword) }
