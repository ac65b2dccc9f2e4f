package protocol

// AbortedStatus is the result status reported for a task that was killed or
// cancelled before it finished.
const AbortedStatus = -3

// SystemInformation is sent by the agent to register with the control server
type SystemInformation struct {
	OsName     string `json:"os_name"`
	OsVersion  string `json:"os_version"`
	Hostname   string `json:"hostname"`
	HostUser   string `json:"host_user"`
	Privileges string `json:"privileges"`
	InstanceID string `json:"instance_id,omitempty"`
}

// Auth is the response to registration
type Auth struct {
	Authorization string `json:"Authorization"`
}

// Task is one unit of work fetched from the control server
type Task struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Data     string `json:"data"`
	MinDelay uint32 `json:"min_delay"`
	MaxDelay uint32 `json:"max_delay"`
}

// TaskResult reports the outcome of a task.
// Status is 0 on success, AbortedStatus when aborted, otherwise the handler's exit code.
type TaskResult struct {
	ID     string `json:"id" cbor:"1,keyasint"`
	Status int    `json:"status" cbor:"2,keyasint"`
	Result string `json:"result" cbor:"3,keyasint"`
}

// WebSocketRequest wraps one control request when the websocket transport is used
type WebSocketRequest struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// WebSocketResponse answers a WebSocketRequest
type WebSocketResponse struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}
