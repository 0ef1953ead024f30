// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chatstore

import (
	"context"
	"log/slog"
	"time"
)

// RunCleanupLoop periodically calls PruneThreadsOlderThan(now - retention)
// until ctx is cancelled.
func RunCleanupLoop(ctx context.Context, store Store, retention time.Duration, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			n, err := store.PruneThreadsOlderThan(ctx, cutoff)
			if err != nil {
				logger.Error("chat thread prune failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("pruned chat threads", "count", n, "cutoff", cutoff)
			}
		}
	}
}
