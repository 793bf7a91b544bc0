package version

// Version is the current version of the Warpcall CLI. It is sent to the
// relay as part of the device descriptor on join.
// Override at build time with:
//   go build -ldflags="-X 'github.com/BioHazard786/Warpcall/internal/version.Version=v1.0.0'"
var Version = "dev"

// Name is the client name other peers see in the device descriptor.
const Name = "warpcall-cli"
