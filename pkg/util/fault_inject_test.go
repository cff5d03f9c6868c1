package util

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_faults(t *testing.T) {
	errFault := errors.New("injected")
	RegisterFault(FAULTS_SCOPE_STORE, "f1", nil, func([]string) error { return errFault })
	assert.Nil(t, CheckFault(FAULTS_SCOPE_STORE, "f1"), "closed scope ignores registration")

	OpenFaults(FAULTS_SCOPE_STORE)
	RegisterFault(FAULTS_SCOPE_STORE, "f1", []string{"a"}, func(args []string) error {
		assert.Equal(t, []string{"a"}, args)
		return errFault
	})
	action := CheckFault(FAULTS_SCOPE_STORE, "f1")
	assert.NotNil(t, action)
	assert.ErrorIs(t, action.Run(), errFault)
	assert.Nil(t, CheckFault(FAULTS_SCOPE_STORE, "f2"))
	assert.Nil(t, CheckFault(FaultScope(FAULTS_COUNT), "f1"))

	CloseFaults(FAULTS_SCOPE_STORE)
	assert.Nil(t, CheckFault(FAULTS_SCOPE_STORE, "f1"))
	var nilAction *FaultAction
	assert.NoError(t, nilAction.Run())
}
