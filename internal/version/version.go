package version

// Set with -ldflags "-X github.com/Layr-Labs/raffle-sidecar/internal/version.Version=..."
var (
	Version = "unknown"
	Commit  = "unknown"
)

func GetVersion() string {
	return Version
}

func GetCommit() string {
	return Commit
}
