// Package connectors contains sources of file change events. The only
// built-in connector is the filesystem watcher; the Watcher port keeps
// the pipeline ignorant of where events come from.
package connectors
