package realtime

// Namespaces served by the backend.
const (
	NamespaceFiles = "/files"
	NamespaceBot   = "/bot"
	NamespaceLogs  = "/bot_logs"
)

// Event names.
const (
	EventAddFile  = "add_file"  // client → /files, acked
	EventJoinRoom = "join_room" // client → /bot, /bot_logs; ack carries cached history
	EventBotStop  = "bot_stop"  // client → /bot_logs, echoed to the room
	EventLogBot   = "logbot"    // server → /bot, /bot_logs
)

// AddFile is one chunk of an upload. CurrentSize is the number of bytes of
// this file already sent, including this chunk.
type AddFile struct {
	Name        string `json:"name"`
	Chunk       []byte `json:"chunk"`
	CurrentSize int64  `json:"current_size"`
	FileSize    int64  `json:"fileSize"`
	FileType    string `json:"fileType"`
	Seed        string `json:"seed"`
}

// JoinRoom subscribes to the log room of an execution.
type JoinRoom struct {
	Room string `json:"room"`
}

// BotStop asks the backend to stop an execution.
type BotStop struct {
	PID string `json:"pid"`
}

// Message type values of LogMessage.MessageType.
const (
	MessageSuccess = "success"
	MessageError   = "error"
	MessageInfo    = "info"
	MessageWarning = "warning"
)

// LogMessage is a structured log line emitted by a running bot.
type LogMessage struct {
	PID         string `json:"pid"`
	Message     string `json:"message"`
	TimeMessage string `json:"time_message,omitempty"`
	MessageType string `json:"message_type"`
	Status      string `json:"status,omitempty"`
	StartTime   string `json:"start_time,omitempty"`
	Row         int    `json:"row"`
	Total       int    `json:"total"`
	Errors      int    `json:"erros"`
	Successes   int    `json:"sucessos"`
	Remaining   int    `json:"restantes"`
	Link        string `json:"link,omitempty"`
}
