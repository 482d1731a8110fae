//
// Copyright (c) 2024, 2026 jamakase and contributors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 as shown at
//  https://www.apache.org/licenses/LICENSE-2.0
//

package table

import (
	"time"

	"github.com/jamakase/ydb-go-sdk/table/logger"
	"github.com/jamakase/ydb-go-sdk/table/ydberr"
)

const (
	// The default timeout value for requests issued by the client on its
	// own behalf, such as commits and rollbacks of unresolved transactions.
	defaultRequestTimeout = 5 * time.Second

	// The default timeout value for creating a session, covering the
	// create RPC and opening the attach stream.
	defaultSessionCreateTimeout = 5 * time.Second

	// The default timeout value for deleting a session. Deletions run
	// detached from the caller that triggered them.
	defaultSessionDeleteTimeout = 5 * time.Second

	// Default capacity bounds for the session pool.
	defaultSessionPoolMinLimit = 5
	defaultSessionPoolMaxLimit = 20

	// Defaults for the retry strategy used when Config.RetryStrategy is
	// not set. A zero interval selects exponential backoff.
	defaultMaxNumRetries = 10
)

// Config represents a group of configuration parameters for a Client.
//
// When creating a Client, the Config instance is copied so modifications on
// the instance have no effect on the existing Client which is immutable.
//
// Most of the configuration parameters are optional and have default values
// if not specified. The required parameters are Discovery and Dialer.
type Config struct {
	// Discovery specifies the endpoint discovery collaborator.
	// It is required.
	Discovery Discovery

	// Dialer specifies the collaborator that establishes the RPC channel
	// to an endpoint. It is required.
	Dialer Dialer

	// SessionPoolMinLimit specifies the number of sessions the pool aims
	// to keep alive. If not set, defaults to 5.
	//
	// The current pool creates sessions on demand only; the value is
	// validated and accepted for interface compatibility but does not
	// trigger prepopulation or replenishment yet.
	// TODO: replenish the pool toward this floor after evictions.
	SessionPoolMinLimit int

	// SessionPoolMaxLimit specifies the maximum number of live sessions,
	// counting sessions whose creation is in flight. If not set,
	// defaults to 20.
	SessionPoolMaxLimit int

	// RetryStrategy specifies the retry policy used by Do and DoTx.
	// If not set, a default strategy with exponential backoff is used.
	RetryStrategy RetryStrategy

	// Configurations for requests.
	RequestConfig

	// Configurations for logging.
	LoggingConfig
}

// RequestConfig groups the timeouts applied to requests the client issues on
// its own behalf.
type RequestConfig struct {
	// RequestTimeout specifies a timeout for commit and rollback requests
	// issued by the Do wrapper. If not set, defaults to 5 seconds.
	RequestTimeout time.Duration

	// SessionCreateTimeout specifies a timeout for creating a session.
	// If not set, defaults to 5 seconds.
	SessionCreateTimeout time.Duration

	// SessionDeleteTimeout specifies a timeout for deleting a session.
	// If not set, defaults to 5 seconds.
	SessionDeleteTimeout time.Duration
}

// DefaultRequestTimeout returns the effective timeout for client-issued
// commit and rollback requests.
func (r *RequestConfig) DefaultRequestTimeout() time.Duration {
	if r.RequestTimeout > 0 {
		return r.RequestTimeout
	}
	return defaultRequestTimeout
}

// DefaultSessionCreateTimeout returns the effective timeout for creating a
// session.
func (r *RequestConfig) DefaultSessionCreateTimeout() time.Duration {
	if r.SessionCreateTimeout > 0 {
		return r.SessionCreateTimeout
	}
	return defaultSessionCreateTimeout
}

// DefaultSessionDeleteTimeout returns the effective timeout for deleting a
// session.
func (r *RequestConfig) DefaultSessionDeleteTimeout() time.Duration {
	if r.SessionDeleteTimeout > 0 {
		return r.SessionDeleteTimeout
	}
	return defaultSessionDeleteTimeout
}

// LoggingConfig represents logging configurations.
type LoggingConfig struct {
	// Logger specifies a logger for the client.
	// If not set, logger.DefaultLogger is used.
	//
	// To disable logging, set it to a nil logger explicitly with:
	//
	//	cfg.LoggingConfig.Logger = logger.New(nil, logger.Off, false)
	Logger *logger.Logger

	// loggerSet records whether Logger was assigned explicitly, so that a
	// deliberately nil logger is not replaced by the default.
	loggerSet bool
}

// SetLogger assigns a logger for the client. A nil logger disables logging.
func (l *LoggingConfig) SetLogger(lgr *logger.Logger) {
	l.Logger = lgr
	l.loggerSet = true
}

// setDefaults fills in default values for parameters that are not specified.
func (cfg *Config) setDefaults() {
	if cfg.SessionPoolMinLimit == 0 {
		cfg.SessionPoolMinLimit = defaultSessionPoolMinLimit
	}
	if cfg.SessionPoolMaxLimit == 0 {
		cfg.SessionPoolMaxLimit = defaultSessionPoolMaxLimit
	}
	if cfg.Logger == nil && !cfg.loggerSet {
		cfg.Logger = logger.DefaultLogger
	}
	if cfg.RetryStrategy == nil {
		cfg.RetryStrategy = &DefaultRetryStrategy{maxNumRetries: defaultMaxNumRetries}
	}
}

// validate checks the configuration parameters after defaults were applied.
func (cfg *Config) validate() error {
	if cfg.Discovery == nil {
		return ydberr.NewIllegalArgument("a Discovery implementation must be specified in Config")
	}

	if cfg.Dialer == nil {
		return ydberr.NewIllegalArgument("a Dialer implementation must be specified in Config")
	}

	if cfg.SessionPoolMinLimit < 0 {
		return ydberr.NewIllegalArgument("SessionPoolMinLimit must not be negative, got %d",
			cfg.SessionPoolMinLimit)
	}

	if cfg.SessionPoolMaxLimit < 1 {
		return ydberr.NewIllegalArgument("SessionPoolMaxLimit must be positive, got %d",
			cfg.SessionPoolMaxLimit)
	}

	if cfg.SessionPoolMinLimit > cfg.SessionPoolMaxLimit {
		return ydberr.NewIllegalArgument("SessionPoolMinLimit (%d) must not exceed SessionPoolMaxLimit (%d)",
			cfg.SessionPoolMinLimit, cfg.SessionPoolMaxLimit)
	}

	return nil
}
