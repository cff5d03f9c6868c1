package util

import (
	"sync"
	"sync/atomic"
)

type FaultScope int

const (
	FAULTS_COUNT       int        = 16
	FAULTS_SCOPE_STORE FaultScope = 0
)

var faultsSwitch [FAULTS_COUNT]Faults

type Faults struct {
	_enable atomic.Bool
	_faults sync.Map
}

// FaultAction is run by the code path that checks for the named fault.
// A non-nil error from Action is returned to that path's caller.
type FaultAction struct {
	Args   []string
	Action func([]string) error
}

func (action *FaultAction) Run() error {
	if action == nil || action.Action == nil {
		return nil
	}
	return action.Action(action.Args)
}

func validScope(scope FaultScope) bool {
	return int(scope) < FAULTS_COUNT && scope >= 0
}

func OpenFaults(scope FaultScope) {
	if !validScope(scope) {
		return
	}
	faultsSwitch[scope]._enable.Store(true)
}

func CloseFaults(scope FaultScope) {
	if !validScope(scope) {
		return
	}
	faultsSwitch[scope]._enable.Store(false)
	faultsSwitch[scope]._faults.Clear()
}

func CheckFault(scope FaultScope, faultName string) *FaultAction {
	if !validScope(scope) {
		return nil
	}
	if !faultsSwitch[scope]._enable.Load() {
		return nil
	}
	val, ok := faultsSwitch[scope]._faults.Load(faultName)
	if !ok || val == nil {
		return nil
	}
	return val.(*FaultAction)
}

// RegisterFault is a no-op unless the scope was opened.
func RegisterFault(scope FaultScope, faultName string, args []string, action func([]string) error) {
	if !validScope(scope) {
		return
	}
	if !faultsSwitch[scope]._enable.Load() {
		return
	}
	faultsSwitch[scope]._faults.Store(faultName, &FaultAction{Args: args, Action: action})
}
