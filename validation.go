package pgmock

// Validator records the first malformed-wire-input error (§7) found
// across a single frame's checks, so a caller can run every check and
// then log and drop once; errors found after the first are not kept.
type Validator struct {
	err error
}

// AddError records err if one hasn't already been recorded; only the
// first error of a validation pass is kept, mirroring how these checks
// are used: the first failure is sufficient grounds to drop the frame.
func (v *Validator) AddError(err error) {
	if v.err == nil {
		v.err = err
	}
}

// HasError reports whether any error has been recorded.
func (v *Validator) HasError() bool { return v.err != nil }

// Err returns the recorded error, if any.
func (v *Validator) Err() error { return v.err }

// ErrPop returns the recorded error and clears it.
func (v *Validator) ErrPop() error {
	err := v.err
	v.err = nil
	return err
}

// Reset clears any recorded error.
func (v *Validator) Reset() { v.err = nil }
