package version

// Version is overridden at build time via -ldflags "-X lardata/version.Version=...".
var Version = "dev"
