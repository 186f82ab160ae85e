package migerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransferErrorWrapsCauseAndUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransferError{Message: "copy failed", Cause: cause}

	require.Equal(t, "transfer error: copy failed: connection reset", err.Error())
	require.ErrorIs(t, err, cause)
}

func TestTransferErrorWithoutCause(t *testing.T) {
	err := &TransferError{Message: "copy failed"}
	require.Equal(t, "transfer error: copy failed", err.Error())
	require.Nil(t, err.Unwrap())
}

func TestErrorsAsMatchesConcreteTypeAcrossWrapping(t *testing.T) {
	base := &DatabaseError{Message: "insert failed", Cause: errors.New("deadlock")}
	wrapped := fmt.Errorf("step failed: %w", base)

	var dbErr *DatabaseError
	require.ErrorAs(t, wrapped, &dbErr)
	require.Equal(t, "insert failed", dbErr.Message)
}

func TestNotFoundErrorMessage(t *testing.T) {
	err := &NotFoundError{Kind: "session", ID: "sess-1"}
	require.Equal(t, "session not found: sess-1", err.Error())
}

func TestCancelledErrorDefaultsMessage(t *testing.T) {
	require.Equal(t, "cancelled", (&CancelledError{}).Error())
	require.Equal(t, "cancelled: by user", (&CancelledError{Message: "by user"}).Error())
}

func TestPoolTimeoutErrorMessage(t *testing.T) {
	err := &PoolTimeoutError{Waited: "5s"}
	require.Equal(t, "pool timeout after 5s", err.Error())
}

func TestNativeHelperErrorMessage(t *testing.T) {
	err := &NativeHelperError{Op: "copy_file", Message: "helper crashed"}
	require.Equal(t, "native helper error (copy_file): helper crashed", err.Error())
}

func TestDistinctErrorTypesDoNotMatchEachOtherViaErrorsAs(t *testing.T) {
	err := &ValidationError{Message: "bad config"}

	var notFound *NotFoundError
	require.False(t, errors.As(err, &notFound))
}
