// Package attrs defines telemetry attribute keys shared by the service middlewares so
// metrics, traces and logs describe the same call the same way.
package attrs

const (
	// AttrFileName is the file a call operates on.
	AttrFileName = "file.name"
	// AttrFileSize is the declared size of a stored file in bytes.
	AttrFileSize = "file.size"
	// AttrFilesCount is the number of files a List call returned.
	AttrFilesCount = "files.count"
	// AttrTargetsCount is the number of storage nodes a Store was sent to.
	AttrTargetsCount = "targets.count"
	// AttrNodePort is the storage node a Load or Reload pointed the client at.
	AttrNodePort = "node.port"
	// AttrOutcome is "ok" or the error the call failed with.
	AttrOutcome = "outcome"
)
