package extron

// Event is one decoded line (or prompt) from the device.
type Event interface {
	event()
}

// SignalClass selects which plane of the matrix a tie belongs to.
type SignalClass string

const (
	SignalVideo SignalClass = "video"
	SignalAudio SignalClass = "audio"
)

// LoginPrompt is the device asking for a password.
type LoginPrompt struct{}

// LoginAccepted confirms a password, carrying the granted level
// ("Administrator" or "User").
type LoginAccepted struct {
	Level string
}

// LoginRejected is a repeated prompt after a password was sent.
type LoginRejected struct{}

// CommandAck is a tie echo: "Out<O> In<I> All".
type CommandAck struct {
	Output int
	Input  int
}

// UnsolicitedTieChange is a breakaway tie report the session did not ask for.
type UnsolicitedTieChange struct {
	Output int
	Input  int
	Signal SignalClass
}

// RouteStatus answers a per-output status query with the bare input number.
type RouteStatus struct {
	Input int
}

// InfoReport answers the information request: "V<in>X<out> A<in>X<out>".
type InfoReport struct {
	VideoInputs  int
	VideoOutputs int
	AudioInputs  int
	AudioOutputs int
}

// Banner is a greeting line sent after the connection opens.
type Banner struct {
	Text string
}

// Unparseable is any line none of the rules matched.
type Unparseable struct {
	Raw string
}

func (LoginPrompt) event()          {}
func (LoginAccepted) event()        {}
func (LoginRejected) event()        {}
func (CommandAck) event()           {}
func (UnsolicitedTieChange) event() {}
func (RouteStatus) event()          {}
func (InfoReport) event()           {}
func (Banner) event()               {}
func (Unparseable) event()          {}
