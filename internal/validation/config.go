package validation

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/josephgoksu/TriageWing/internal/llm"
)

const (
	DefaultConcurrency         = 3
	DefaultConfirmedConfidence = 0.95
	DefaultFailureMultiplier   = 0.8
	DefaultShutdownTimeout     = 10 * time.Second
)

// Config controls one Orchestrator.
type Config struct {
	// Concurrency caps the workers of a batch; the pool size is min(Concurrency, tasks).
	Concurrency int `mapstructure:"concurrency" validate:"min=1,max=64"`
	// ConfirmedConfidence is assigned to findings the model confirms.
	ConfirmedConfidence float64 `mapstructure:"confirmed_confidence" validate:"gt=0,lte=1"`
	// FailureMultiplier scales the baseline of findings whose validation failed.
	FailureMultiplier float64 `mapstructure:"failure_multiplier" validate:"gte=0,lte=1"`
	// ShutdownTimeout bounds how long a cancelled batch waits for in-flight tasks.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`

	Options llm.Options `mapstructure:"-"`
}

// DefaultConfig returns the defaults used when no configuration is given.
func DefaultConfig() Config {
	return Config{
		Concurrency:         DefaultConcurrency,
		ConfirmedConfidence: DefaultConfirmedConfidence,
		FailureMultiplier:   DefaultFailureMultiplier,
		ShutdownTimeout:     DefaultShutdownTimeout,
		Options:             llm.ValidationOptions(),
	}
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid validation config: %w", err)
	}
	return nil
}

var validate = validator.New()
