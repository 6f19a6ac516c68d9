package app

// Command is the mode the process starts in.
type Command string

const (
	// CommandServe starts the HTTP API.
	CommandServe Command = "serve"
	// CommandWorker starts the background jobs.
	CommandWorker Command = "worker"
	// CommandMigrate applies pending database migrations and exits.
	CommandMigrate Command = "migrate"
	// CommandHealthcheck calls the local /health endpoint. It exists for
	// container health checks on images without a shell.
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand returns the subcommand named by args[0]. An empty or unknown
// argument list means CommandServe.
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
