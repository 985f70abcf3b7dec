package cluster

import (
    "errors"
    "fmt"
)

var (
    ErrInspectionFailed   = errors.New("cluster: inspection failed")
    ErrPrimaryConflict    = errors.New("cluster: a different node is already primary")
    ErrMasterNotFound     = errors.New("cluster: master node not found")
    ErrEmptyResult        = errors.New("cluster: discovery returned no primary")
    ErrInvalidAddress     = errors.New("cluster: invalid primary address")
    ErrRegistrationFailed = errors.New("cluster: primary registration failed")
    ErrJoinStepFailed     = errors.New("cluster: join step failed")
    ErrJoinNotConfirmed   = errors.New("cluster: unable to detect self as standby")
    ErrRoleMismatch       = errors.New("cluster: observed role does not match configured role")
    ErrWitnessUnsupported = errors.New("cluster: witness registration is not supported")
    ErrInvalidIdentity    = errors.New("cluster: invalid node identity")
)

// SnapshotError attaches the last observed cluster status to a fatal error so
// operators see what the node saw when it gave up.
type SnapshotError struct {
    Err      error
    Snapshot Status
}

func (e *SnapshotError) Error() string {
    return fmt.Sprintf("%v\nlast cluster status:\n%s", e.Err, e.Snapshot.String())
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// WithSnapshot wraps err with the given status.
func WithSnapshot(err error, st Status) error {
    if err == nil { return nil }
    return &SnapshotError{Err: err, Snapshot: st}
}
