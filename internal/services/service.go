// Package services holds the lifecycle contract shared by every long-lived
// component of the daemon, plus the checker that aggregates their health.
package services

type (
	// Checkable is implemented by anything the health checker can poll.
	Checkable interface {
		// Ready reports nil once the component has finished starting up.
		Ready() error
		// Healthy reports nil while the component is operating normally.
		Healthy() error
	}

	// Service is a long-lived component owned by the application supervisor.
	// Start must be callable exactly once, Close likewise; both are expected
	// to be implemented on top of utils.StartStopOnce.
	Service interface {
		Start() error
		Close() error

		Checkable
	}
)
