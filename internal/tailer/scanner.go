package tailer

import (
	"context"
	"fmt"

	"github.com/nxadm/tail"
	"go.uber.org/zap"
)

// ScanFile reads every line already present in path, from the beginning,
// and calls fn for each one. It does not follow the file. It returns the
// number of lines read.
func ScanFile(ctx context.Context, path string, logger *zap.Logger, fn func(lineNumber int64, text string)) (int64, error) {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    false,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer t.Cleanup()

	var lineNumber int64
	for {
		select {
		case <-ctx.Done():
			_ = t.Stop()
			return lineNumber, ctx.Err()

		case line, ok := <-t.Lines:
			if !ok {
				if err := t.Wait(); err != nil {
					return lineNumber, fmt.Errorf("failed to scan %s: %w", path, err)
				}
				return lineNumber, nil
			}

			if line.Err != nil {
				logger.Warn("Error reading line", zap.String("file", path), zap.Error(line.Err))
				continue
			}

			lineNumber++
			fn(lineNumber, line.Text)
		}
	}
}
