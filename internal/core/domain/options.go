package domain

// SenderOptions configures a sender session. Targets narrows which
// devices the stream is advertised to; empty means every device on the
// network may see it.
type SenderOptions struct {
	Transport TransportConfig   `json:"transport"`
	Targets   []string          `json:"targets,omitempty"`
	Video     *VideoDescription `json:"video,omitempty"`
	Audio     *AudioDescription `json:"audio,omitempty"`
}

// ReceiverOptions configures a receiver session. Address overrides the
// strategy address in the sender's description for the Direct case,
// where the receiver must dial the sender as seen from its own network.
type ReceiverOptions struct {
	Address string `json:"address,omitempty"`
}
