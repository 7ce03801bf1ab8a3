package bus

import "time"

// Event is a room-scoped domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by prefix (e.g. "push.", "timeline.").
const (
	PushMessageCreated = "push.message_created"
	PushMessageDeleted = "push.message_deleted"
	PushUserTyping     = "push.user_typing"
	PushUserRecording  = "push.user_recording"
	PushDisconnected   = "push.disconnected"

	TimelineMerged   = "timeline.merged"
	TimelineDeleted  = "timeline.deleted"
	TimelineReplaced = "timeline.replaced"
	TimelineRemoved  = "timeline.removed"

	PresenceChanged = "presence.changed"

	VoicePhaseChanged = "voice.phase_changed"
	VoiceElapsed      = "voice.elapsed"
	VoiceWaveform     = "voice.waveform"

	ComposerSendFailed = "composer.send_failed"

	SyncStatusChanged = "sync.status_changed"
)
