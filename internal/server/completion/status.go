package completion

import "fmt"

// Status is the lifecycle state of one completion request.
type Status string

const (
	StatusPending            Status = "pending"
	StatusDispatching        Status = "dispatching"
	StatusStreaming          Status = "streaming"
	StatusFinalizing         Status = "finalizing"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusFailed             Status = "failed"
	StatusRejected           Status = "rejected"
	StatusCancelled          Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:     {StatusDispatching, StatusRejected, StatusFailed, StatusCancelled},
	StatusDispatching: {StatusStreaming, StatusFailed, StatusCancelled},
	StatusStreaming:   {StatusFinalizing, StatusFailed, StatusCancelled},
	StatusFinalizing:  {StatusCompleted, StatusPartiallyCompleted, StatusCancelled, StatusFailed},
}

// machine tracks the state of a request and refuses illegal moves.
type machine struct {
	state Status
}

func (m *machine) to(next Status) error {
	for _, s := range transitions[m.state] {
		if s == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s", m.state, next)
}
