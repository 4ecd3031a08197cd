package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const requestsSchema = `
CREATE TABLE IF NOT EXISTS requests (
    id                  uuid PRIMARY KEY,
    customer_id         text NOT NULL,
    session_id          text NOT NULL DEFAULT '',
    type                text NOT NULL,
    business_type       text NOT NULL DEFAULT '',
    status              text NOT NULL DEFAULT 'PENDING',
    priority            text NOT NULL DEFAULT 'normal',
    admin_id            text NOT NULL DEFAULT '',
    request_data        jsonb NOT NULL DEFAULT '{}'::jsonb,
    generated_content   jsonb,
    notes               text NOT NULL DEFAULT '',
    images_draft        jsonb NOT NULL DEFAULT '{}'::jsonb,
    images_version      bigint NOT NULL DEFAULT 0,
    estimated_cost      numeric(10,2) NOT NULL DEFAULT 0,
    actual_cost         numeric(10,2) NOT NULL DEFAULT 0,
    processing_duration bigint,
    retry_count         integer NOT NULL DEFAULT 0,
    error_message       text NOT NULL DEFAULT '',
    created_at          timestamptz NOT NULL DEFAULT now(),
    updated_at          timestamptz NOT NULL DEFAULT now(),
    assigned_at         timestamptz,
    started_at          timestamptz,
    completed_at        timestamptz
);

CREATE INDEX IF NOT EXISTS requests_status_created_idx ON requests (status, created_at DESC);
CREATE INDEX IF NOT EXISTS requests_admin_idx ON requests (admin_id) WHERE admin_id <> '';
CREATE INDEX IF NOT EXISTS requests_customer_idx ON requests (customer_id);
`

// EnsureSchema creates the requests table and its indexes if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, requestsSchema); err != nil {
		return fmt.Errorf("ensure requests schema: %w", err)
	}
	return nil
}
