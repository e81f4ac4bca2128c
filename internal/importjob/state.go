package importjob

import "fmt"

var forward = []Status{
	StatusUploading,
	StatusValidating,
	StatusExtracting,
	StatusParsingContent,
	StatusProcessingAssets,
	StatusMapping,
	StatusReady,
}

var stageProgress = map[Status]int{
	StatusUploading:        5,
	StatusValidating:       25,
	StatusExtracting:       40,
	StatusParsingContent:   50,
	StatusProcessingAssets: 65,
	StatusMapping:          75,
	StatusReady:            100,
	StatusFailed:           0,
}

// Progress is the percentage recorded when a stage starts.
func Progress(s Status) int { return stageProgress[s] }

func rank(s Status) int {
	for i, f := range forward {
		if f == s {
			return i
		}
	}
	return -1
}

// CanTransition reports whether an event for step to may follow one for
// step from. Stages move forward or repeat; any live stage may fail.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	rf, rt := rank(from), rank(to)
	return rf >= 0 && rt >= rf
}

// checkAppend validates next against the last committed event.
func checkAppend(last, next Event) error {
	if _, ok := stageProgress[next.Step]; !ok {
		return fmt.Errorf("%w: unknown step %q", ErrInvalidTransition, next.Step)
	}
	if last.Step.Terminal() {
		return ErrTerminal
	}
	if !CanTransition(last.Step, next.Step) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, last.Step, next.Step)
	}
	if next.Step != StatusFailed && next.Progress < last.Progress {
		return fmt.Errorf("%w: %d < %d", ErrProgressRegressed, next.Progress, last.Progress)
	}
	return nil
}

// Project derives the job's status, progress and displayed log from its
// events, which must be in commit order.
func Project(events []Event) (Status, int, []LogEntry) {
	if len(events) == 0 {
		return "", 0, nil
	}
	steps := make([]LogEntry, 0, len(events))
	for _, e := range events {
		entry := LogEntry{Step: e.Step, Status: e.Status, Message: e.Message, Progress: e.Progress, Timestamp: e.CreatedAt}
		if n := len(steps); n > 0 && steps[n-1].Step == e.Step {
			steps[n-1] = entry
			continue
		}
		steps = append(steps, entry)
	}
	last := events[len(events)-1]
	return last.Step, last.Progress, steps
}
