package domain

import (
	"context"
)

// RecordStore answers event queries against the claims warehouse.
// A nil cohort means no patient filter. Implementations return events deduplicated by
// (patient key, code, date), ordered by key then date then code, and hide any per-year
// storage layout from the caller.
type RecordStore interface {
	FetchEvents(ctx context.Context, cs CodeSet, cohort *Cohort, rng DateRange) ([]MedicalEvent, error)
}

// AgeSource returns the ages recorded on claims and stays for a cohort.
type AgeSource interface {
	FetchAges(ctx context.Context, cohort *Cohort, rng DateRange) ([]AgeObservation, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
}
