package database

import (
	"time"
)

const (
	StatePending   = "pending"
	StateHeld      = "held"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// Job is a job record as stored in redis.
type Job struct {
	Id           string            `json:"id"`
	Name         string            `json:"name"`
	User         string            `json:"user"`
	Partition    string            `json:"partition,omitempty"`
	Submitted    time.Time         `json:"submitted"`
	Resources    map[string]string `json:"resources,omitempty"`
	TimeLimit    time.Duration     `json:"timeLimit,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	BurstBuffer  string            `json:"burstBuffer,omitempty"`
	State        string            `json:"state"`
	Node         string            `json:"node,omitempty"`
	Started      time.Time         `json:"started,omitempty"`
	Finished     time.Time         `json:"finished,omitempty"`
	// Serial of the most recent update to this record. Assigned by the repository.
	Serial int64 `json:"serial"`
}

func terminal(state string) bool {
	return state == StateCompleted || state == StateFailed || state == StateCancelled
}

// validTransitions lists, by target state, the states a job may be moved out of by UpdateJobState.
var validTransitions = map[string][]string{
	StateHeld:      {StatePending},
	StatePending:   {StateHeld},
	StateCompleted: {StateRunning},
	StateFailed:    {StateRunning},
	StateCancelled: {StatePending, StateHeld, StateRunning},
}
