package ws

// TopicEvents is the stream all dashboard events are published to: probe
// results, burst summaries, and metrics refreshes.
const TopicEvents = "events"
