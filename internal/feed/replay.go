package feed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/banshee-data/proximity.report/internal/timeutil"
)

// Replay applies one line of r per clock tick, skipping blank lines and
// lines starting with '#'. It returns nil at end of input.
func Replay(ctx context.Context, clock timeutil.Clock, r io.Reader, interval time.Duration, target Target) error {
	if interval <= 0 {
		return fmt.Errorf("replay interval must be positive, got %s", interval)
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
		if err := HandleLine(ctx, target, line); err != nil {
			logLineError("replay", err)
		}
	}
	return scan.Err()
}
