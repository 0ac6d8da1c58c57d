// Package events carries job lifecycle notifications from the scheduler to
// interested components without coupling them to the task package.
//
// The primary components are:
// - JobEvent: a progress, completed or failed notification for one job
// - EventHandler: Interface for components that react to events synchronously
// - InMemoryEventEmitter: fan-out to handlers and buffered channel subscribers
package events
