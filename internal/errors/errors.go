// internal/errors/errors.go
//
// Package appErrors holds the error types the dispatch engine hands across
// package boundaries. Wrapping and inspection go through cockroachdb/errors
// so stack traces survive the trip from worker to log line.
package appErrors

import (
	"fmt"

	crdb "github.com/cockroachdb/errors"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithHint     = crdb.WithHint
	WithDetail   = crdb.WithDetail
	Mark         = crdb.Mark
	FlattenHints = crdb.FlattenHints
	Is           = crdb.Is
	As           = crdb.As
)

var (
	ErrJobNotFound      = New("dispatch job not found")
	ErrNoRecipients     = New("campaign has no active recipients")
	ErrLockNotAcquired  = New("campaign lock held by another worker")
	ErrCampaignInFlight = New("campaign has outstanding jobs")
)

// ErrCampaignNotFound is returned by stores for unknown IDs
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// InvalidTransitionError leaves the campaign untouched.
type InvalidTransitionError struct {
	CampaignID string
	From       model.CampaignStatus
	Op         string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s campaign %s in status %s", e.Op, e.CampaignID, e.From)
}

func NewInvalidTransition(id string, from model.CampaignStatus, op string) error {
	return &InvalidTransitionError{CampaignID: id, From: from, Op: op}
}

// ConfigError reports a campaign field that can never be evaluated.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewConfigError(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type NoContentError struct {
	CampaignID string
}

func (e *NoContentError) Error() string {
	return fmt.Sprintf("campaign %s has no active variants or media", e.CampaignID)
}

// TransientError is retried by the worker with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError fails the job on the first occurrence.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError anywhere in its chain.
// Anything else, including timeouts, counts as transient.
func IsPermanent(err error) bool {
	var p *PermanentError
	return As(err, &p)
}

func IsNotFound(err error) bool {
	var nf *ErrCampaignNotFound
	return As(err, &nf) || Is(err, ErrJobNotFound)
}

func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return As(err, &it)
}

// IsValidation groups errors a caller fixes by editing the campaign.
func IsValidation(err error) bool {
	var ce *ConfigError
	var nc *NoContentError
	return As(err, &ce) || As(err, &nc) || Is(err, ErrNoRecipients)
}
