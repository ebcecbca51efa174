// Command aetherion is the on-device speech-to-text service.
//
// Usage:
//
//	aetherion [flags] <command> [args]
//
// Commands:
//
//	serve       - Run the UDP capture server and HTTP API
//	transcribe  - Transcribe a WAV file
//	weights     - Create or inspect AETW weight files
package main

import (
	"fmt"
	"os"

	"github.com/Cabrel10/AetherionOS/cmd/aetherion/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
