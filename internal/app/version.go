package app

const ServiceName = "enrollment-service"

// Set via -ldflags at build time:
//
//	go build -ldflags="-X 'enrollment-service/internal/app.Version=1.0.0'"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)
