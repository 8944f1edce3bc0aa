package static

import (
	"time"

	uuid "github.com/satori/go.uuid"
)

// Version is overridden at link time for release builds.
var Version = "unset"

// Sha is overridden at link time for release builds.
var Sha = "unset"

// InstanceUUID distinguishes concurrent daemon instances in shared log streams.
var InstanceUUID uuid.UUID

var InitTime time.Time

func init() {
	InitTime = time.Now()
	InstanceUUID = uuid.NewV4()
}
