package txbuild

import (
	"errors"
	"fmt"

	"github.com/ppiankov/intentgate/internal/intent"
)

var (
	// ErrMisuse matches every builder contract violation.
	ErrMisuse = errors.New("transaction builder misuse")
	// ErrNoActionTransaction is returned for kinds authorized only for their receipt.
	ErrNoActionTransaction = errors.New("intent kind has no action transaction")
	// ErrAmountOverflow is returned when a token amount does not fit the token program's u64.
	ErrAmountOverflow = errors.New("token amount exceeds u64")
	// ErrInvalidAddress is returned when an address is not a base58 public key.
	ErrInvalidAddress = errors.New("invalid address")
)

// MisuseError reports a build request the caller should never have made.
// It is distinct from a policy rejection.
type MisuseError struct {
	Kind   intent.Kind
	Reason string
	Err    error
}

func (e *MisuseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("txbuild: %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("txbuild: %s: %s", e.Kind, e.Reason)
}

func (e *MisuseError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrMisuse) match.
func (e *MisuseError) Is(target error) bool { return target == ErrMisuse }
