package prometheus

const (
	Namespace = "anaconda"

	BusSubsystem          = "bus"
	TaskSubsystem         = "task"
	InstallationSubsystem = "installation"
)
