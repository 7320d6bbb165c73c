package capture

// MessageType names the JSON control messages exchanged between the interview
// page, the capture helper and the server audio socket.
type MessageType string

const (
	MsgInterviewAppReady    MessageType = "interviewAppReady"
	MsgExtensionReady       MessageType = "extensionReady"
	MsgProcessTranscription MessageType = "processTranscription"
	MsgToggle               MessageType = "toggle"
	MsgStartCapture         MessageType = "startCapture"
	MsgStopCapture          MessageType = "stopCapture"
	MsgOffscreenStart       MessageType = "offscreen-start"
	MsgOffscreenStop        MessageType = "offscreen-stop"
	MsgOffscreenStopped     MessageType = "offscreen-stopped"

	// Server replies on the audio socket.
	MsgTranscript     MessageType = "transcript"
	MsgCaptureStopped MessageType = "captureStopped"
	MsgError          MessageType = "error"
)

// Capabilities advertised in the extensionReady greeting.
const (
	CapabilityStream       = "stream"
	CapabilityPCMFloat32LE = "pcm-f32le"
	CapabilityTextIngest   = "processTranscription"
)

func ServerCapabilities() []string {
	return []string{CapabilityStream, CapabilityPCMFloat32LE, CapabilityTextIngest}
}

type Message struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"sessionId,omitempty"`
	Text         string      `json:"text,omitempty"`
	Answer       string      `json:"answer,omitempty"`
	TranscriptID string      `json:"transcriptId,omitempty"`
	Capabilities []string    `json:"capabilities,omitempty"`
	SampleRate   int         `json:"sampleRate,omitempty"`
	Code         string      `json:"code,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// Supports reports whether the greeting advertised the named capability.
func (m Message) Supports(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
