package cas

import (
	"errors"
	"syscall"
)

// isENOSPC reports whether err ultimately wraps ENOSPC ("no space left on
// device"), the condition the design calls out as StorageFull.
func isENOSPC(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
