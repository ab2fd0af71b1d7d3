package vault

// CommandLine returns the arguments (excluding the executable) that start a
// dev server for s with the given config file. The order is fixed.
func CommandLine(s Settings, configPath string) []string {
	return []string{
		"server",
		"-dev",
		"-dev-root-token-id=" + s.RootTokenID(),
		"-dev-listen-address=" + s.Address(),
		"-config=" + configPath,
		"-log-level=" + s.LogLevel().String(),
	}
}
