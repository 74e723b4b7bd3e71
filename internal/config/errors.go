package config

import "errors"

// Validation errors returned by Config.Validate.
var (
	// ErrNoStartURL is returned when neither a start URL nor --all-sites is given.
	ErrNoStartURL = errors.New("no start url: provide a url argument, --start-url or startUrl in the config file")

	// ErrInvalidMaxPages is returned when the page budget is negative.
	ErrInvalidMaxPages = errors.New("invalid max pages: must be non-negative")

	// ErrInvalidTimeBudget is returned when the time budget is negative.
	ErrInvalidTimeBudget = errors.New("invalid time budget: must be non-negative")

	// ErrInvalidDelayRange is returned when delay-min is negative or above delay-max.
	ErrInvalidDelayRange = errors.New("invalid delay range: need 0 <= delay-min <= delay-max")

	// ErrInvalidFloor is returned when the delay between requests is negative.
	ErrInvalidFloor = errors.New("invalid delay between requests: must be non-negative")

	// ErrInvalidTimeout is returned when the fetch timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidMaxRetries is returned when the retry ceiling is below one.
	ErrInvalidMaxRetries = errors.New("invalid max retries: must be at least 1")

	// ErrInvalidRetryDelay is returned when a retry delay is negative or the
	// maximum is below the base.
	ErrInvalidRetryDelay = errors.New("invalid retry delay: need 0 <= retry-delay <= retry-max-delay")

	// ErrUnknownRetryStrategy is returned for a strategy other than fixed or exponential.
	ErrUnknownRetryStrategy = errors.New("unknown retry strategy: use fixed or exponential")

	// ErrInvalidConcurrency is returned when the worker count is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidBatchSize is returned when the number of concurrent sites is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrUnknownRenderer is returned for a renderer other than http or chrome.
	ErrUnknownRenderer = errors.New("unknown renderer: use http or chrome")

	// ErrInvalidCheckpointEvery is returned when the checkpoint interval is negative.
	ErrInvalidCheckpointEvery = errors.New("invalid checkpoint interval: must be non-negative")

	// ErrUnknownStore is returned for a store backend other than sqlite, postgres or redis.
	ErrUnknownStore = errors.New("unknown store: use sqlite, postgres or redis")

	// ErrStoreDSNRequired is returned when postgres or redis is selected without a DSN.
	ErrStoreDSNRequired = errors.New("store dsn is required for postgres and redis")

	// ErrKafkaTopicRequired is returned when a broker is set without a topic.
	ErrKafkaTopicRequired = errors.New("kafka topic is required when a broker is set")

	// ErrConflictingReportFormats is returned when both --json and --markdown are set.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrEmptyOutputFile is returned when the artifact file name is empty.
	ErrEmptyOutputFile = errors.New("output file name is empty")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")
)
