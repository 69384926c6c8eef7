package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"ledgersync/internal/billing"
	"ledgersync/internal/ledger"
	"ledgersync/internal/logger"
	"ledgersync/internal/mirror"
	"ledgersync/internal/sheets"
)

type Config struct {
	// Ledger Store Configuration
	DBDriver   string
	DBPath     string // sqlite3 database file
	DBDSN      string // Full mysql DSN, overrides the DB_HOST group
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Mirror (Google Sheets) Configuration
	MirrorSpreadsheetURL    string
	GoogleCredentialsFile   string
	GoogleCredentialsJSON   string
	MirrorSheetName         string
	MirrorHeaderRow         int
	MirrorLabelRow          int
	MirrorFirstDataRow      int
	MirrorCompanyColumn     string
	MirrorAllowRegistration bool

	// Billing Configuration
	RequireResolvedIdentity bool
	TaxRate                 decimal.Decimal

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_DRIVER", ledger.DriverSQLite)
	v.SetDefault("DB_PATH", "ledgersync.db")
	v.SetDefault("DB_PORT", 3306)

	v.SetDefault("MIRROR_SHEET_NAME", "{year}")
	v.SetDefault("MIRROR_HEADER_ROW", 1)
	v.SetDefault("MIRROR_LABEL_ROW", 2)
	v.SetDefault("MIRROR_FIRST_DATA_ROW", 3)
	v.SetDefault("MIRROR_COMPANY_COLUMN", "A")
	v.SetDefault("MIRROR_ALLOW_REGISTRATION", false)

	v.SetDefault("REQUIRE_RESOLVED_IDENTITY", false)
	v.SetDefault("TAX_RATE", "0.10")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("LOG_TIME_FORMAT", time.RFC3339)
	v.SetDefault("LOG_OUTPUT", "stderr")
}

// Load reads configuration from defaults, the optional config file and the
// environment, in increasing precedence. Keys are the same in all three,
// e.g. DB_DRIVER in the environment or db_driver in a YAML file.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	v.AutomaticEnv()

	taxRate, err := decimal.NewFromString(v.GetString("TAX_RATE"))
	if err != nil {
		return nil, fmt.Errorf("config validation failed: TAX_RATE %q: %w", v.GetString("TAX_RATE"), err)
	}

	config := &Config{
		DBDriver:   v.GetString("DB_DRIVER"),
		DBPath:     v.GetString("DB_PATH"),
		DBDSN:      v.GetString("DB_DSN"),
		DBHost:     v.GetString("DB_HOST"),
		DBPort:     v.GetInt("DB_PORT"),
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBName:     v.GetString("DB_NAME"),

		MirrorSpreadsheetURL:    v.GetString("MIRROR_SPREADSHEET_URL"),
		GoogleCredentialsFile:   v.GetString("GOOGLE_APPLICATION_CREDENTIALS"),
		GoogleCredentialsJSON:   v.GetString("GOOGLE_CREDENTIALS"),
		MirrorSheetName:         v.GetString("MIRROR_SHEET_NAME"),
		MirrorHeaderRow:         v.GetInt("MIRROR_HEADER_ROW"),
		MirrorLabelRow:          v.GetInt("MIRROR_LABEL_ROW"),
		MirrorFirstDataRow:      v.GetInt("MIRROR_FIRST_DATA_ROW"),
		MirrorCompanyColumn:     v.GetString("MIRROR_COMPANY_COLUMN"),
		MirrorAllowRegistration: v.GetBool("MIRROR_ALLOW_REGISTRATION"),

		RequireResolvedIdentity: v.GetBool("REQUIRE_RESOLVED_IDENTITY"),
		TaxRate:                 taxRate,

		LogLevel:      v.GetString("LOG_LEVEL"),
		LogFormat:     v.GetString("LOG_FORMAT"),
		LogTimeFormat: v.GetString("LOG_TIME_FORMAT"),
		LogOutput:     v.GetString("LOG_OUTPUT"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case ledger.DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for sqlite3")
		}
	case ledger.DriverMySQL:
		if c.DBDSN == "" && (c.DBHost == "" || c.DBName == "") {
			return fmt.Errorf("DB_DSN or DB_HOST and DB_NAME are required for mysql")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %s or %s, got %q", ledger.DriverSQLite, ledger.DriverMySQL, c.DBDriver)
	}
	if sheets.ColumnIndex(c.MirrorCompanyColumn) == 0 {
		return fmt.Errorf("MIRROR_COMPANY_COLUMN %q is not a column", c.MirrorCompanyColumn)
	}
	if c.TaxRate.IsNegative() {
		return fmt.Errorf("TAX_RATE must not be negative")
	}
	return nil
}

// GetDSN returns the data source name for the configured driver.
func (c *Config) GetDSN() string {
	if c.DBDriver != ledger.DriverMySQL {
		return c.DBPath
	}
	if c.DBDSN != "" {
		return c.DBDSN
	}

	cfg := mysql.NewConfig()
	cfg.User = c.DBUser
	cfg.Passwd = c.DBPassword
	cfg.Net = "tcp"
	cfg.Addr = c.DBHost + ":" + strconv.Itoa(c.DBPort)
	cfg.DBName = c.DBName
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// LedgerConfig returns the ledger store configuration.
func (c *Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		Driver: c.DBDriver,
		DSN:    c.GetDSN(),
	}
}

// MirrorEnabled reports whether a billing spreadsheet is configured.
func (c *Config) MirrorEnabled() bool {
	return c.MirrorSpreadsheetURL != ""
}

// SheetsConfig returns the Google Sheets client configuration.
func (c *Config) SheetsConfig() sheets.Config {
	return sheets.Config{
		Spreadsheet:     c.MirrorSpreadsheetURL,
		CredentialsFile: c.GoogleCredentialsFile,
		CredentialsJSON: c.GoogleCredentialsJSON,
	}
}

// MirrorOptions returns the spreadsheet layout and registration policy.
func (c *Config) MirrorOptions() mirror.Options {
	layout := mirror.DefaultLayout()
	layout.SheetName = c.MirrorSheetName
	layout.HeaderRow = c.MirrorHeaderRow
	layout.LabelRow = c.MirrorLabelRow
	layout.FirstDataRow = c.MirrorFirstDataRow
	layout.CompanyColumn = sheets.ColumnIndex(c.MirrorCompanyColumn)

	return mirror.Options{
		Layout:            layout,
		AllowRegistration: c.MirrorAllowRegistration,
	}
}

// BillingOptions returns the batch save policy.
func (c *Config) BillingOptions() billing.Options {
	return billing.Options{
		RequireResolvedIdentity: c.RequireResolvedIdentity,
	}
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}
