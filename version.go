package updater

// Version is the updater's own version, overridden at build time with
// -ldflags "-X github.com/snider/plugin-updater.Version=...".
var Version = "dev"
