package runner

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
)

// executeShellCommand runs command with bash in dir and captures its output.
// extraEnv is appended to the process environment; binDirs are prepended to PATH.
func executeShellCommand(ctx context.Context, command, dir string, extraEnv, binDirs []string, stream io.Writer) (string, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = dir

	env := os.Environ()
	if len(binDirs) > 0 {
		env = append(env, "PATH="+strings.Join(binDirs, string(os.PathListSeparator))+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
	cmd.Env = append(env, extraEnv...)

	var stdout, stderr bytes.Buffer
	var stdoutWriters []io.Writer
	var stderrWriters []io.Writer

	// Always capture output
	stdoutWriters = append(stdoutWriters, &stdout)
	stderrWriters = append(stderrWriters, &stderr)

	// Optionally also stream to terminal
	if stream != nil {
		stdoutWriters = append(stdoutWriters, stream)
		stderrWriters = append(stderrWriters, stream)
	}

	cmd.Stdout = io.MultiWriter(stdoutWriters...)
	cmd.Stderr = io.MultiWriter(stderrWriters...)

	err := cmd.Run()

	// Combine stdout and stderr
	combinedOutput := stdout.String() + stderr.String()
	if len(combinedOutput) > 0 && combinedOutput[len(combinedOutput)-1] != '\n' {
		combinedOutput += "\n"
	}

	return combinedOutput, err
}
