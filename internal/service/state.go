package service

type State string

const (
	StateInstalling State = "INSTALLING"
	StateStarting   State = "STARTING"
	StateRunning    State = "RUNNING"
	StateErrored    State = "ERRORED"
	StateStopping   State = "STOPPING"
	StateStopped    State = "STOPPED"
)

func States() []State {
	return []State{
		StateInstalling,
		StateStarting,
		StateRunning,
		StateErrored,
		StateStopping,
		StateStopped,
	}
}

func stateNames() []string {
	names := make([]string, 0, len(States()))
	for _, s := range States() {
		names = append(names, string(s))
	}
	return names
}
