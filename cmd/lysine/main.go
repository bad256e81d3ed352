package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/loykin/lysine/internal/config"
	"github.com/loykin/lysine/internal/contingency"
)

func main() {
	root := buildRoot(command{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr})
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "lysine:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps usage errors to 2 and everything else to the underlying OS
// error number, falling back to 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, config.ErrInvalid) {
		return 2
	}
	return contingency.ExitCode(err)
}
