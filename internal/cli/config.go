package cli

// Config is runtime configuration for the hearth CLI.
type Config struct {
	Broker    string
	Identity  string
	TopicBase string
}
