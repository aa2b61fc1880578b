package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var commandContext = exec.CommandContext

const (
	InputPlaceholder  = "{input}"
	OutputPlaceholder = "{output}"
)

// Outcome is the result of an encoder process that was started successfully.
type Outcome struct {
	ExitCode int
	Output   []byte
}

func (o Outcome) Success() bool {
	return o.ExitCode == 0
}

// Encoder transforms the file at inputPath into outputPath.
//
// An error is returned only when the process could not be launched. A process
// that ran and exited non-zero is reported through Outcome.
type Encoder interface {
	Name() string

	Encode(ctx context.Context, inputPath, outputPath string) (Outcome, error)
}

// Format is an external encoder program together with its fixed arguments.
type Format struct {
	name   string
	binary string
	args   []string
}

var AVIF = Format{
	name:   "avif",
	binary: "/usr/bin/avifenc",
	args: []string{
		"-c", "aom",
		"-s", "4",
		"-j", "8",
		"-d", "10",
		"-y", "444",
		"-q", "50",
		"-a", "end-usage=q",
		"-a", "cq-level=35",
		"-a", "tune=iq",
		InputPlaceholder,
		OutputPlaceholder,
	},
}

var WebP = Format{
	name:   "webp",
	binary: "/usr/bin/cwebp",
	args: []string{
		"-q", "75",
		InputPlaceholder,
		"-metadata", "icc",
		"-o", OutputPlaceholder,
	},
}

// NewFormat builds a format from an executable and an argument template. The
// template must reference InputPlaceholder and OutputPlaceholder.
func NewFormat(name, binary string, args ...string) (Format, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Format{}, errors.New("format name required")
	}
	if binary == "" {
		return Format{}, errors.New("binary required")
	}

	var hasInput, hasOutput bool
	for _, arg := range args {
		hasInput = hasInput || arg == InputPlaceholder
		hasOutput = hasOutput || arg == OutputPlaceholder
	}
	if !hasInput || !hasOutput {
		return Format{}, fmt.Errorf("argument template for %s must contain %s and %s", name, InputPlaceholder, OutputPlaceholder)
	}

	return Format{name: name, binary: binary, args: append([]string(nil), args...)}, nil
}

func (f Format) Name() string {
	return f.name
}

func (f Format) Binary() string {
	return f.binary
}

// WithBinary returns a copy of the format that runs a different executable.
// An empty path keeps the default.
func (f Format) WithBinary(binary string) Format {
	if binary != "" {
		f.binary = binary
	}
	return f
}

func (f Format) Args(inputPath, outputPath string) []string {
	args := make([]string, len(f.args))
	for i, arg := range f.args {
		switch arg {
		case InputPlaceholder:
			args[i] = inputPath
		case OutputPlaceholder:
			args[i] = outputPath
		default:
			args[i] = arg
		}
	}
	return args
}

func (f Format) Encode(ctx context.Context, inputPath, outputPath string) (Outcome, error) {
	var output bytes.Buffer
	cmd := commandContext(ctx, f.binary, f.Args(inputPath, outputPath)...) //nolint:gosec
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err == nil {
		return Outcome{ExitCode: 0, Output: output.Bytes()}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Outcome{ExitCode: exitErr.ExitCode(), Output: output.Bytes()}, nil
	}

	return Outcome{}, fmt.Errorf("error launching %s: %w", f.binary, err)
}

// Known returns every format the worker can serve, with default executables.
func Known() []Format {
	return []Format{AVIF, WebP}
}

// Select returns the formats named in names, in the order given. Unknown and
// repeated names are skipped.
func Select(names []string, formats []Format) []Format {
	byName := make(map[string]Format, len(formats))
	for _, f := range formats {
		byName[f.name] = f
	}

	seen := make(map[string]bool)
	var selected []Format
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		f, ok := byName[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		selected = append(selected, f)
	}
	return selected
}
