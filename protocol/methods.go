package protocol

// Closed set of method names a collector plugin may be asked to handle
// (§3, §4.B). Any other method name is routed to MethodNotFound.
const (
	MethodGetMetadata          = "getMetadata"
	MethodConfigure            = "configure"
	MethodTestConnection       = "testConnection"
	MethodFetchSensors         = "fetchSensors"
	MethodFetchSelectedSensors = "fetchSelectedSensors"
	MethodStartSession         = "startSession"
	MethodStopSession          = "stopSession"
	MethodHealthCheck          = "healthCheck"
)

var knownMethods = map[string]bool{
	MethodGetMetadata:          true,
	MethodConfigure:            true,
	MethodTestConnection:       true,
	MethodFetchSensors:         true,
	MethodFetchSelectedSensors: true,
	MethodStartSession:         true,
	MethodStopSession:          true,
	MethodHealthCheck:          true,
}

// IsKnownMethod reports whether method belongs to the closed RPC method set.
func IsKnownMethod(method string) bool {
	return knownMethods[method]
}
