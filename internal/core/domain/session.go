package domain

// Status is the session state of the local device. The states are
// mutually exclusive: at most one sender or receiver session exists at
// any time.
type Status string

const (
	StatusIdle      Status = "Idle"
	StatusSending   Status = "Sending"
	StatusReceiving Status = "Receiving"
)

// Settings is the host-adjustable engine state. Persistence is the
// host's concern; the engine keeps the live copy.
type Settings struct {
	Name      string          `json:"name"`
	Language  string          `json:"language"`
	Transport TransportConfig `json:"transport"`
}
