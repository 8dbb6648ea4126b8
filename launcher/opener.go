package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/casualjim/desktopagent/pkg/slogx"
)

// Opener makes the launched application load the given URL, for example by
// starting a browser.
type Opener func(ctx context.Context, launchURL string) error

// LogOpener only logs the URL; someone has to open it by hand.
func LogOpener(ctx context.Context, launchURL string) error {
	slog.InfoContext(ctx, "open this url to start the peer", slog.String("url", launchURL))
	return nil
}

// CommandOpener runs command with the launch URL appended as its last
// argument, e.g. "xdg-open" or "open -a Safari". The process is not waited
// for beyond reaping it.
func CommandOpener(command string) Opener {
	fields := strings.Fields(command)
	return func(ctx context.Context, launchURL string) error {
		if len(fields) == 0 {
			return errors.New("empty open command")
		}
		args := append(fields[1:len(fields):len(fields)], launchURL)
		cmd := exec.Command(fields[0], args...)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", fields[0], err)
		}
		go func() {
			if err := cmd.Wait(); err != nil {
				slog.WarnContext(ctx, "open command failed", slog.String("command", command), slogx.Error(err))
			}
		}()
		return nil
	}
}
