package split

const (
	experimentsKey = "experiments"
	winnerKey      = "experiment_winner"
	startTimesKey  = "experiment_start_times"

	participantField = "participant_count"
	completedField   = "completed_count"

	startTimeLayout = "2006-01-02T15:04:05"
)

func versionKey(experiment string) string {
	return experiment + ":version"
}

func alternativeKey(experiment, alternative string) string {
	return experiment + ":" + alternative
}

// isReservedName reports whether an experiment name would collide with a
// global key.
func isReservedName(name string) bool {
	switch name {
	case experimentsKey, winnerKey, startTimesKey:
		return true
	}
	return false
}
