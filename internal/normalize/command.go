package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"billingest/internal/services"
)

// CommandNormalizer runs an external converter. Arguments may contain the
// {input} and {output} placeholders; the program must write a parquet file
// to {output} and exit zero.
type CommandNormalizer struct {
	Command []string
}

// Normalize runs the configured command for inputPath.
func (n *CommandNormalizer) Normalize(ctx context.Context, inputPath, outputDir string) (string, error) {
	name := filepath.Base(inputPath)
	if len(n.Command) == 0 {
		return "", services.Wrap(services.ErrConfiguration, "normalize", name, "no command configured", nil)
	}
	if _, err := os.Stat(inputPath); err != nil {
		return "", err
	}
	out := OutputPath(outputDir, inputPath)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create intermediate dir: %w", err)
	}
	_ = os.Remove(out)

	replacer := strings.NewReplacer("{input}", inputPath, "{output}", out)
	args := make([]string, len(n.Command))
	for i, arg := range n.Command {
		args[i] = replacer.Replace(arg)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var exitErr *exec.ExitError
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 512 {
			detail = detail[:512]
		}
		if errors.As(err, &exitErr) {
			return "", services.Wrap(services.ErrConversion, "normalize", name,
				fmt.Sprintf("converter exited with %d: %s", exitErr.ExitCode(), detail), err)
		}
		return "", services.Wrap(services.ErrConfiguration, "normalize", name, "start converter", err)
	}
	if _, err := os.Stat(out); err != nil {
		return "", services.Wrap(services.ErrConversion, "normalize", name, "converter produced no output", err)
	}
	return out, nil
}
