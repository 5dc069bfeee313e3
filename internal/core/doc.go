// Package core holds the run domain model, the error taxonomy, and the ports
// the engine uses to reach the run store and the remote agent service.
package core
