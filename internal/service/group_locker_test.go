package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
	"github.com/noah-isme/field-training-api/pkg/lock"
)

func TestGroupLockerLockForStudentHoldsStudentKey(t *testing.T) {
	locker := lock.NewMemoryLocker(20 * time.Millisecond)
	groups := NewGroupLocker(locker, nil, nil)

	release, err := groups.LockForStudent(context.Background(), "S1", "G1")
	require.NoError(t, err)

	_, err = groups.LockForStudent(context.Background(), "S1", "G2")
	assert.ErrorIs(t, err, appErrors.ErrBusy)

	other, err := groups.Lock(context.Background(), "G2")
	require.NoError(t, err)
	other()

	release()
	again, err := groups.LockForStudent(context.Background(), "S1", "G2")
	require.NoError(t, err)
	again()
}

func TestGroupLockerLockLeavesStudentsFree(t *testing.T) {
	locker := lock.NewMemoryLocker(20 * time.Millisecond)
	groups := NewGroupLocker(locker, nil, nil)

	release, err := groups.Lock(context.Background(), "G1", "G2")
	require.NoError(t, err)
	defer release()

	_, err = groups.LockForStudent(context.Background(), "S1", "G1")
	assert.ErrorIs(t, err, appErrors.ErrBusy)

	student, err := locker.Acquire(context.Background(), studentLockKey("S1"))
	require.NoError(t, err)
	student()
}
