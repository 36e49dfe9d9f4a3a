package xcrud

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrCommitted is returned by writes and Commit on a Context whose
	// transaction has already been committed.
	ErrCommitted = errors.New("xcrud: transaction already committed")

	// ErrRolledBack is returned by writes and Commit on a Context whose
	// transaction was rolled back, either explicitly or after a failed
	// statement.
	ErrRolledBack = errors.New("xcrud: transaction rolled back")

	// ErrClosed is returned by every operation on a closed Context.
	ErrClosed = errors.New("xcrud: context closed")

	// ErrNotPointer is returned when Insert receives a record it cannot
	// write a generated key back into.
	ErrNotPointer = errors.New("xcrud: record must be a non-nil pointer to a struct")
)

// ConfigurationError reports a record type whose mapping metadata is
// missing or invalid. It is raised before any statement is sent.
type ConfigurationError struct {
	Type   reflect.Type
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Type == nil {
		return "xcrud: configuration: " + e.Reason
	}
	return fmt.Sprintf("xcrud: configuration: %s: %s", e.Type, e.Reason)
}

func configErr(rt reflect.Type, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Type: rt, Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedTypeError reports a mapped field whose Go type has no storage
// type.
type UnsupportedTypeError struct {
	Type      reflect.Type // record type, nil when raised by MapType
	Field     string
	FieldType reflect.Type
	Kind      Kind
}

func (e *UnsupportedTypeError) Error() string {
	if e.FieldType == nil {
		return fmt.Sprintf("xcrud: unsupported kind %s", e.Kind)
	}
	return fmt.Sprintf("xcrud: %s.%s: unsupported field type %s", e.Type, e.Field, e.FieldType)
}

// InvalidKeyTypeError reports a primary-key field whose type cannot
// identify a row. Keys must be integers or GUIDs.
type InvalidKeyTypeError struct {
	Type      reflect.Type
	Field     string
	FieldType reflect.Type
}

func (e *InvalidKeyTypeError) Error() string {
	return fmt.Sprintf("xcrud: %s.%s: primary key must be an integer or GUID, got %s", e.Type, e.Field, e.FieldType)
}

// StatementError reports a generated or raw statement that failed to
// execute. By the time it is returned the owning transaction has been
// rolled back; RollbackErr holds any error from that rollback.
type StatementError struct {
	Op          string // insert, update, remove, exec
	Table       Table
	Statement   string
	Err         error
	RollbackErr error
}

func (e *StatementError) Error() string {
	msg := fmt.Sprintf("xcrud: %s", e.Op)
	if e.Table.Name != "" {
		msg += " " + e.Table.String()
	}
	msg += ": " + e.Err.Error()
	if e.RollbackErr != nil {
		msg += " (rollback: " + e.RollbackErr.Error() + ")"
	}
	return msg
}

func (e *StatementError) Unwrap() []error {
	if e.RollbackErr == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.RollbackErr}
}
