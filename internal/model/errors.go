package model

import (
	"errors"
	"fmt"
)

// TransientDeliveryError marks a sink failure that may succeed on retry,
// such as a timeout, throttling, or a temporary network failure.
type TransientDeliveryError struct {
	Err error
}

func (e *TransientDeliveryError) Error() string {
	return fmt.Sprintf("transient delivery error: %v", e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// PermanentDeliveryError marks a sink failure that retrying cannot fix,
// such as a schema mismatch or denied access.
type PermanentDeliveryError struct {
	Err error
}

func (e *PermanentDeliveryError) Error() string {
	return fmt.Sprintf("permanent delivery error: %v", e.Err)
}

func (e *PermanentDeliveryError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientDeliveryError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientDeliveryError{Err: err}
}

// Permanent wraps err as a PermanentDeliveryError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentDeliveryError{Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientDeliveryError.
func IsTransient(err error) bool {
	var te *TransientDeliveryError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is (or wraps) a PermanentDeliveryError.
func IsPermanent(err error) bool {
	var pe *PermanentDeliveryError
	return errors.As(err, &pe)
}
