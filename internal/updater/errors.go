package updater

import "errors"

// ErrUpdateInProgress is returned when a trigger arrives while another
// update or rollback holds the update lock. The caller should try again
// later; no ledger record is created.
var ErrUpdateInProgress = errors.New("another update is already in progress")

// ErrAutoUpdateDisabled short-circuits scheduled triggers when the
// auto_update config flag is off. No lock is taken and no ledger record
// is created.
var ErrAutoUpdateDisabled = errors.New("auto-update is disabled in configuration")
