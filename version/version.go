// Package version carries the release identity reported over JSON-RPC.
package version

import "runtime"

// Version is the semantic release version, overridable at link time.
var Version = "0.11.0"

// ClientVersion returns the web3_clientVersion string.
func ClientVersion() string {
	return "edr/" + Version + "/" + runtime.GOOS + "-" + runtime.GOARCH + "/" + runtime.Version()
}
