package gateway

import "github.com/tailored-agentic-units/gateway/observability"

// Observability events emitted by the orchestrator.
const (
	EventMessageReceived  observability.EventType = "gateway.message.received"
	EventStreamChunk      observability.EventType = "gateway.stream.chunk"
	EventStreamEnd        observability.EventType = "gateway.stream.end"
	EventToolStarted      observability.EventType = "gateway.tool.started"
	EventToolFinished     observability.EventType = "gateway.tool.finished"
	EventModeChanged      observability.EventType = "gateway.mode.changed"
	EventSelectionChanged observability.EventType = "gateway.selection.changed"
	EventSessionCleared   observability.EventType = "gateway.session.cleared"
	EventChannelGone      observability.EventType = "gateway.channel.disconnected"
)
