// Package lifecycle provides Tracker implementations that report the
// create, update and delete scopes opened by the reconcile dispatcher.
package lifecycle
