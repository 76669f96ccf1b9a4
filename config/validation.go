package config

import (
	"fmt"
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateHedgeRatios(&c.HedgeRatios)...)
	errors = append(errors, validateOrchestrator(&c.Orchestrator)...)
	errors = append(errors, validateLifecycle(&c.Lifecycle)...)
	errors = append(errors, validateVenues(&c.Venues)...)
	errors = append(errors, validateHealthServer(&c.HealthServer)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateFraction(field string, v float64, errs []ValidationError) []ValidationError {
	if v < 0 || v > 1 {
		return append(errs, ValidationError{Field: field, Message: "must be between 0 and 1"})
	}
	return errs
}

func validateHedgeRatios(h *HedgeRatioConfig) []ValidationError {
	var errors []ValidationError
	errors = validateFraction("hedge_ratios.depeg", h.Depeg, errors)
	errors = validateFraction("hedge_ratios.smart_contract", h.SmartContract, errors)
	errors = validateFraction("hedge_ratios.oracle", h.Oracle, errors)
	errors = validateFraction("hedge_ratios.bridge", h.Bridge, errors)
	errors = validateFraction("hedge_ratios.cex_liquidation", h.CexLiquidation, errors)
	return errors
}

func validateOrchestrator(o *OrchestratorConfig) []ValidationError {
	var errors []ValidationError

	if o.Interval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.interval",
			Message: "must be at least 1 second",
		})
	}

	if o.IterationDeadline < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.iteration_deadline",
			Message: "must be at least 1 second",
		})
	}

	if o.IterationDeadline >= o.Interval {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.iteration_deadline",
			Message: "must be shorter than orchestrator.interval",
		})
	}

	if o.MaxPoliciesPerIteration < 1 {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.max_policies_per_iteration",
			Message: "must be at least 1",
		})
	}

	if o.MaxAggregateNotionalUSD <= 0 {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.max_aggregate_notional_usd",
			Message: "must be positive",
		})
	}

	return errors
}

func validateLifecycle(l *LifecycleConfig) []ValidationError {
	var errors []ValidationError

	if l.Period < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "lifecycle.period",
			Message: "must be at least 1 second",
		})
	}

	errors = validateFraction("lifecycle.warning_loss_fraction", l.WarningLossFraction, errors)
	errors = validateFraction("lifecycle.critical_loss_fraction", l.CriticalLossFraction, errors)

	if l.WarningLossFraction >= l.CriticalLossFraction {
		errors = append(errors, ValidationError{
			Field:   "lifecycle.critical_loss_fraction",
			Message: "must be greater than lifecycle.warning_loss_fraction",
		})
	}

	if l.ReconciliationToleranceUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "lifecycle.reconciliation_tolerance_usd",
			Message: "must be non-negative",
		})
	}

	return errors
}

func validateVenueClient(field string, v *VenueClientConfig) []ValidationError {
	var errors []ValidationError

	if len(v.Endpoints) == 0 {
		errors = append(errors, ValidationError{
			Field:   field + ".endpoints",
			Message: "at least one endpoint is required",
		})
	}

	if v.RequestTimeout < 100*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   field + ".request_timeout",
			Message: "must be at least 100ms",
		})
	}

	if v.Pool.MaxConnections < 1 {
		errors = append(errors, ValidationError{
			Field:   field + ".pool.max_connections",
			Message: "must be at least 1",
		})
	}

	if v.Retry.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   field + ".retry.max_attempts",
			Message: "must be at least 1",
		})
	}

	if v.Retry.BaseDelay <= 0 {
		errors = append(errors, ValidationError{
			Field:   field + ".retry.base_delay",
			Message: "must be positive",
		})
	}

	if v.Retry.MaxDelay < v.Retry.BaseDelay {
		errors = append(errors, ValidationError{
			Field:   field + ".retry.max_delay",
			Message: "must be at least retry.base_delay",
		})
	}

	if v.CircuitBreaker.FailureThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   field + ".circuit_breaker.failure_threshold",
			Message: "must be at least 1",
		})
	}

	if v.RateLimit.TokensPerSecond <= 0 {
		errors = append(errors, ValidationError{
			Field:   field + ".rate_limit.tokens_per_second",
			Message: "must be positive",
		})
	}

	return errors
}

func validateVenues(v *VenuesConfig) []ValidationError {
	var errors []ValidationError
	errors = append(errors, validateVenueClient("venues.polymarket_gamma", &v.PolymarketGamma)...)
	errors = append(errors, validateVenueClient("venues.polymarket_clob", &v.PolymarketCLOB)...)
	errors = append(errors, validateVenueClient("venues.hyperliquid", &v.Hyperliquid)...)
	errors = append(errors, validateVenueClient("venues.binance_futures", &v.BinanceFutures)...)
	errors = append(errors, validateVenueClient("venues.gmx", &v.Gmx)...)
	return errors
}

func validateHealthServer(hs *HealthServerConfig) []ValidationError {
	var errors []ValidationError

	if hs.Port < 1 || hs.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "health_server.port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", hs.Port),
		})
	}

	return errors
}
