package onesided

// Version is the release of the library and CLI. Release builds override it with
// -ldflags "-X github.com/aretw0/onesided.Version=...".
var Version = "0.1.0"
