// Command voicectl runs the voice feature pipeline on local files.
//
// Usage:
//
//	voicectl extract <file>
//	voicectl compare <enrolled> <candidate>
//	voicectl normalize <text...>
//
// Settings are read the same way the server reads them (VOICEAUTH_* env,
// .env, optional config file).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
