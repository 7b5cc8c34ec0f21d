package api

// ServerSettings configures the API server
type ServerSettings struct {
	Debug             bool
	BasicAuthEnabled  bool
	BasicAuthUsername string
	BasicAuthPassword string
}

// WithDebug enables request logging
func (s ServerSettings) WithDebug(debug bool) ServerSettings {
	s.Debug = debug
	return s
}

// WithBasicAuth enables state-changing endpoints, guarded by the given credentials
func (s ServerSettings) WithBasicAuth(username, password string) ServerSettings {
	s.BasicAuthEnabled = true
	s.BasicAuthUsername = username
	s.BasicAuthPassword = password
	return s
}

// NewServerSettings creates ServerSettings with state-changing endpoints disabled
func NewServerSettings() ServerSettings {
	return ServerSettings{}
}
