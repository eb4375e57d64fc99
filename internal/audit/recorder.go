package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Recorder appends records into audit_logs. The write uses its own implicit
// transaction: it deliberately sits outside the assignment transaction so a
// failure record survives the rollback it reports on.
type Recorder struct {
	pool *pgxpool.Pool
}

// NewRecorder returns a new Recorder.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Record persists the audit entry.
func (r *Recorder) Record(ctx context.Context, rec Record) error {
	if r == nil {
		return errors.New("audit recorder not initialised")
	}
	if rec.Action == "" || rec.TargetType == "" || rec.TargetID == "" {
		return errors.New("audit record requires action/target_type/target_id")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return err
	}
	var createdAt *time.Time
	if !rec.CreatedAt.IsZero() {
		createdAt = &rec.CreatedAt
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, admin_id, action, target_type, target_id, metadata, ip_address, user_agent, success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))`,
		rec.ID, rec.AdminID, string(rec.Action), rec.TargetType, rec.TargetID, metaJSON, rec.IPAddress, rec.UserAgent, rec.Success, createdAt)
	return err
}

// CountRecentGrants counts the caller's successful grant records since the
// given instant. This backs the trailing-window rate limit.
func (r *Recorder) CountRecentGrants(ctx context.Context, adminID int64, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM audit_logs
		WHERE admin_id = $1
		  AND action = $2
		  AND success = TRUE
		  AND created_at >= $3`,
		adminID, string(ActionRoleAssigned), since).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// PruneOlderThan deletes records created before the cutoff. Used by the
// retention job only; nothing in the request path deletes audit rows.
func (r *Recorder) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
