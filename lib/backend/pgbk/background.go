/*
 * ConfPlane
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package pgbk

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gravitational/confplane/lib/backend"
)

// backgroundExpiry collects expired rows. Reads already filter on
// expiry, so the sweep only reclaims space; the reaper closes drift
// events before instance rows disappear, so storage-level TTL deletes
// are safe here.
func (b *Backend) backgroundExpiry(ctx context.Context) {
	defer b.wg.Done()
	defer b.logger.InfoContext(ctx, "Exited expiry loop")

	for {
		// Tight inner loop: more than one batch can expire per sweep
		// period under load.
		for range backend.DefaultRangeLimit / deleteBatchSize {
			t0 := time.Now()
			var n int64
			if err := b.retry(ctx, func(ctx context.Context, p *pgxpool.Pool) error {
				tag, err := p.Exec(ctx,
					`DELETE FROM cp_kv WHERE key = ANY(ARRAY(
						SELECT key FROM cp_kv WHERE expires IS NOT NULL AND expires <= $1 LIMIT $2))`,
					b.cfg.Clock.Now().UTC(), deleteBatchSize,
				)
				if err != nil {
					return trace.Wrap(err)
				}
				n = tag.RowsAffected()
				return nil
			}); err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.ErrorContext(ctx, "Failed to delete expired items", "error", err)
				break
			}

			if n > 0 {
				b.logger.DebugContext(ctx, "Deleted expired items",
					"deleted", n,
					"elapsed", time.Since(t0).String(),
				)
			}

			if n < deleteBatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-b.cfg.Clock.After(expirySweepPeriod):
		}
	}
}
