package common

import (
	"fmt"
	"strings"
)

// Channel is the name of a Socket.IO event received from (or emitted to) the
// Skinport feed. It doubles as the topic key on the event bus.
type Channel string

// Known feed channels
const (
	ChannelSaleFeed           Channel = "saleFeed"           // Listed/sold items
	ChannelMaintenanceUpdated Channel = "maintenanceUpdated" // Site maintenance status
	ChannelSteamStatusUpdated Channel = "steamStatusUpdated" // Steam availability
	ChannelSaleFeedJoin       Channel = "saleFeedJoin"       // Outbound subscription event
)

// Internal bus topics that do not correspond to a server event
const (
	TopicConnection Channel = "connection" // Connection state transitions
	TopicHandlerErr Channel = "handler_error"
	TopicREST       Channel = "rest_request" // Completed REST calls
	TopicBreaker    Channel = "circuit_breaker"
)

// KnownChannels lists the inbound feed channels.
var KnownChannels = []Channel{
	ChannelSaleFeed,
	ChannelMaintenanceUpdated,
	ChannelSteamStatusUpdated,
}

func (c Channel) String() string {
	return string(c)
}

// Known reports whether c is one of the inbound feed channels.
func (c Channel) Known() bool {
	for _, k := range KnownChannels {
		if k == c {
			return true
		}
	}
	return false
}

// ParseChannel validates a channel name. Any non-blank name is accepted since
// the server may introduce events this client does not know about.
func ParseChannel(name string) (Channel, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("channel name must not be empty")
	}
	return Channel(name), nil
}
