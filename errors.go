package fixedpool

import "github.com/pkg/errors"

// Sentinel errors returned by Pool and Upstream operations. Callers should
// compare with errors.Is, not with ==, since several return sites wrap these
// with call-site context.
var (
	// ErrOutOfMemory is returned when the upstream allocator cannot supply
	// a new slot's backing region.
	ErrOutOfMemory = errors.New("fixedpool: upstream out of memory")

	// ErrDoubleFree is returned by Free when the item's cell is already
	// marked free in its owning slot.
	ErrDoubleFree = errors.New("fixedpool: double free")

	// ErrMisaligned is returned by Free when the item pointer does not
	// land on a cell boundary inside its owning slot.
	ErrMisaligned = errors.New("fixedpool: misaligned free")

	// ErrItemInitRefused is returned by Alloc/AllocZero when the
	// configured ItemInit hook refuses the freshly carved cell.
	ErrItemInitRefused = errors.New("fixedpool: item init refused")

	// ErrInvalidItemSize is returned by New when itemSize <= 0.
	ErrInvalidItemSize = errors.New("fixedpool: item size must be > 0")

	// ErrClosed is returned by Alloc, AllocZero and Free after Close.
	ErrClosed = errors.New("fixedpool: pool is closed")
)

// wrap annotates err with a call-site message, leaving the sentinel
// reachable through errors.Is/errors.Cause.
func wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
