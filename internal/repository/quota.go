package repository

import (
	"fmt"
	"strings"

	"fieldsync/internal/domain"
)

// isOOM reports whether redis refused a write because maxmemory was reached.
func isOOM(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "OOM ")
}

func errQuota(cause error) error {
	return fmt.Errorf("%w: %v", domain.ErrQuotaExceeded, cause)
}
