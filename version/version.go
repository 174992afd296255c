package version

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built software version.
	Version string = WSSemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

const (
	// WSSemVer is the current semantic version of wellspring.
	WSSemVer = "0.1.0"

	// SyncProtocol is the wire version of the scope reconciliation
	// protocol. Peers with different versions refuse to sync.
	SyncProtocol int64 = 1
)
