package common

import (
	"encoding/json"
)

func getRunStateMapping() []string {
	return []string{"IDLE", "RUNNING", "SUCCEEDED", "FAILED", "ABORTED"}
}

// RunStates lists the names of all run states.
func RunStates() []string {
	return getRunStateMapping()
}

// RunState is the state of an installation run.
type RunState int

const (
	RunIdle RunState = iota
	RunRunning
	RunSucceeded
	RunFailed
	RunAborted
)

// CustomJsonConversionError is thrown when parsing strings into enumerations
type CustomJsonConversionError struct {
	reason string
}

// Error returns the error as a string
func (err *CustomJsonConversionError) Error() string {
	return err.reason
}

func (rs RunState) String() string {
	mapping := getRunStateMapping()
	if int(rs) < 0 || int(rs) >= len(mapping) {
		return "UNKNOWN"
	}
	return mapping[rs]
}

// Terminal reports whether no further transitions happen from this state.
func (rs RunState) Terminal() bool {
	return rs == RunSucceeded || rs == RunFailed || rs == RunAborted
}

func (rs *RunState) UnmarshalJSON(data []byte) error {
	var stringInput string
	err := json.Unmarshal(data, &stringInput)
	if err != nil {
		return err
	}
	for n, str := range getRunStateMapping() {
		if str == stringInput {
			*rs = RunState(n)
			return nil
		}
	}
	return &CustomJsonConversionError{"invalid run state: " + stringInput}
}

func (rs RunState) MarshalJSON() ([]byte, error) {
	return json.Marshal(rs.String())
}
