package ari

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event type names the dispatcher recognizes. Anything else is logged and
// ignored.
const (
	EventStasisStart          = "StasisStart"
	EventStasisEnd            = "StasisEnd"
	EventChannelStateChange   = "ChannelStateChange"
	EventChannelHangupRequest = "ChannelHangupRequest"
)

// CallerID is the caller identity carried on a channel.
type CallerID struct {
	Number string `json:"number"`
	Name   string `json:"name"`
}

// Dialplan locates the channel in the PBX dialplan.
type Dialplan struct {
	Exten   string `json:"exten"`
	Context string `json:"context"`
}

// Channel is the subset of the ARI channel object the bridge needs.
type Channel struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	State    string   `json:"state"`
	Caller   CallerID `json:"caller"`
	Dialplan Dialplan `json:"dialplan"`
}

// Event is one decoded ARI event. All recognized event types share this
// envelope; event-specific fields the bridge does not use are dropped during
// decoding.
type Event struct {
	Type        string    `json:"type"`
	Application string    `json:"application,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Channel     *Channel  `json:"channel,omitempty"`

	// Args carries the Stasis dialplan arguments on StasisStart.
	Args []string `json:"args,omitempty"`

	// Cause is the hangup cause code on ChannelHangupRequest.
	Cause int `json:"cause,omitempty"`
}

// ParseEvent decodes one ARI event from its JSON wire form. Events without a
// type field are rejected; unknown types decode fine and are left to the
// dispatcher to ignore.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("ari: decode event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("ari: event missing type field")
	}
	return &ev, nil
}

// ChannelID returns the channel id carried by the event, or "".
func (e *Event) ChannelID() string {
	if e.Channel == nil {
		return ""
	}
	return e.Channel.ID
}
