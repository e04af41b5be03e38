package main

import "log"

// ConsoleNotifier surfaces the user-facing failures on the process
// log. A UI embedding the sync core supplies its own Notifier instead.
type ConsoleNotifier struct{}

// NewConsoleNotifier returns a log-backed notifier.
func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{}
}

// ConnectionLost announces that reconnection is underway.
func (n *ConsoleNotifier) ConnectionLost(reason string) {
	log.Printf("notice: connection lost (%s), attempting to reconnect", reason)
}

// ReconnectFailed announces that automatic reconnection gave up.
func (n *ConsoleNotifier) ReconnectFailed() {
	log.Printf("notice: unable to reconnect, working offline; queued changes will sync later")
}

// QueueExhausted announces that a queued change was abandoned.
func (n *ConsoleNotifier) QueueExhausted(entityID string) {
	log.Printf("notice: a queued change for %s could not be synced and was set aside", entityID)
}
