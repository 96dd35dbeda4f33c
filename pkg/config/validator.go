package config

import "fmt"

// ValidationError mirrors tarsy's pkg/config ValidationError: component +
// field context wrapping an underlying error.
type ValidationError struct {
	Component string
	Field     string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field %q: %v", e.Component, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validator validates a Config comprehensively, returning the first failure
// (fail-fast), matching tarsy's pkg/config/validator.go ValidateAll.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates server, database, sandbox, validation, and upload
// settings in dependency order.
func (v *Validator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := v.validateDatabase(); err != nil {
		return fmt.Errorf("database validation failed: %w", err)
	}
	if err := v.validateSandbox(); err != nil {
		return fmt.Errorf("sandbox validation failed: %w", err)
	}
	if err := v.validateValidation(); err != nil {
		return fmt.Errorf("validation pipeline config failed: %w", err)
	}
	if err := v.validateUpload(); err != nil {
		return fmt.Errorf("upload validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateServer() error {
	if v.cfg.Server.Addr == "" {
		return &ValidationError{Component: "server", Field: "addr", Err: fmt.Errorf("required")}
	}
	if v.cfg.Server.BodyLimitBytes <= 0 {
		return &ValidationError{Component: "server", Field: "body_limit_bytes", Err: fmt.Errorf("must be positive")}
	}
	return nil
}

func (v *Validator) validateDatabase() error {
	if v.cfg.Database.DSN == "" {
		return &ValidationError{Component: "database", Field: "dsn", Err: fmt.Errorf("required")}
	}
	if v.cfg.Database.MaxConns <= 0 {
		return &ValidationError{Component: "database", Field: "max_conns", Err: fmt.Errorf("must be positive")}
	}
	return nil
}

func (v *Validator) validateSandbox() error {
	if v.cfg.Sandbox.ExecuteTimeout <= 0 {
		return &ValidationError{Component: "sandbox", Field: "execute_timeout", Err: fmt.Errorf("must be positive")}
	}
	return nil
}

func (v *Validator) validateValidation() error {
	vc := v.cfg.Validation
	if vc.MaxConcurrentRegression <= 0 {
		return &ValidationError{Component: "validation", Field: "max_concurrent_regression", Err: fmt.Errorf("must be positive")}
	}
	if vc.PassThreshold < 0 || vc.PassThreshold > 100 {
		return &ValidationError{Component: "validation", Field: "pass_threshold", Err: fmt.Errorf("must be in [0,100]")}
	}
	if vc.MinRawScore < 1 || vc.MinRawScore > 5 {
		return &ValidationError{Component: "validation", Field: "min_raw_score", Err: fmt.Errorf("must be in [1,5]")}
	}
	return nil
}

func (v *Validator) validateUpload() error {
	uc := v.cfg.Upload
	if uc.ChunkSizeBytes <= 0 {
		return &ValidationError{Component: "upload", Field: "chunk_size_bytes", Err: fmt.Errorf("must be positive")}
	}
	if uc.SimpleMaxBytes <= 0 {
		return &ValidationError{Component: "upload", Field: "simple_max_bytes", Err: fmt.Errorf("must be positive")}
	}
	if uc.StaleSessionTTL <= 0 {
		return &ValidationError{Component: "upload", Field: "stale_session_ttl", Err: fmt.Errorf("must be positive")}
	}
	return nil
}
