package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const deviceColumns = `device_id, owner_id, name, user_access, last_command, last_command_time, created_at, updated_at`

// PostgresRepository is a PostgreSQL implementation of Repository.
//
// Conditional updates are single UPDATE statements whose WHERE clause carries the
// precondition, so the check and the write are one atomic step in the database.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL device repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Get retrieves a device by ID.
func (r *PostgresRepository) Get(ctx context.Context, deviceID string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM garage_devices WHERE device_id = $1`

	device, err := scanDevice(r.pool.QueryRow(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	return device, nil
}

// ListByOwner retrieves all devices owned by a user.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM garage_devices WHERE owner_id = $1 ORDER BY device_id`
	return r.list(ctx, query, ownerID)
}

// ListByMember retrieves all devices whose access list contains a user.
func (r *PostgresRepository) ListByMember(ctx context.Context, userID string) ([]*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM garage_devices WHERE user_access @> ARRAY[$1::text] ORDER BY device_id`
	return r.list(ctx, query, userID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...interface{}) ([]*Device, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return devices, nil
}

// ConditionalUpdate applies a mutation with a guarded UPDATE ... RETURNING.
func (r *PostgresRepository) ConditionalUpdate(ctx context.Context, deviceID string, cond Condition, mut Mutation) (*Device, error) {
	query, args, err := conditionalUpdateQuery(deviceID, cond, mut)
	if err != nil {
		return nil, err
	}

	device, err := scanDevice(r.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// No row matched: tell a missing record apart from a failed precondition.
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM garage_devices WHERE device_id = $1)`, deviceID,
	).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrDeviceNotFound
	}
	return nil, ErrConditionFailed
}

// Create stores a pre-registered device.
func (r *PostgresRepository) Create(ctx context.Context, device *Device) error {
	query := `
		INSERT INTO garage_devices (device_id, owner_id, name, user_access, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (device_id) DO NOTHING
	`

	createdAt := device.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	result, err := r.pool.Exec(ctx, query,
		device.ID,
		nullableString(device.OwnerID),
		device.Name,
		accessList(device.UserAccess),
		createdAt,
	)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrDeviceExists
	}

	return nil
}

// conditionalUpdateQuery builds the guarded UPDATE for mut under cond.
// The device ID is always $1.
func conditionalUpdateQuery(deviceID string, cond Condition, mut Mutation) (string, []interface{}, error) {
	b := &updateBuilder{args: []interface{}{deviceID}}

	if err := b.set(mut); err != nil {
		return "", nil, err
	}
	b.where(cond)

	query := fmt.Sprintf(
		`UPDATE garage_devices SET %s, updated_at = now() WHERE device_id = $1%s RETURNING %s`,
		strings.Join(b.sets, ", "),
		b.conditions(),
		deviceColumns,
	)
	return query, b.args, nil
}

// updateBuilder assembles the SET and WHERE clauses of a conditional update.
type updateBuilder struct {
	args  []interface{}
	sets  []string
	preds []string
}

func (b *updateBuilder) arg(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *updateBuilder) set(mut Mutation) error {
	switch mut.Kind {
	case MutationClaim:
		b.sets = append(b.sets,
			"owner_id = "+b.arg(mut.OwnerID),
			"name = "+b.arg(mut.Name),
			"user_access = '{}'::text[]",
		)
	case MutationGrant:
		b.sets = append(b.sets,
			"user_access = array_append(COALESCE(user_access, '{}'::text[]), "+b.arg(mut.UserID)+"::text)")
	case MutationRevoke:
		b.sets = append(b.sets,
			"user_access = array_remove(user_access, "+b.arg(mut.UserID)+"::text)")
	case MutationRecordCommand:
		b.sets = append(b.sets,
			"last_command = "+b.arg(string(mut.Command)),
			"last_command_time = "+b.arg(mut.CommandTime),
		)
	default:
		return fmt.Errorf("unsupported mutation kind %d", mut.Kind)
	}
	return nil
}

func (b *updateBuilder) where(cond Condition) {
	if cond.Unowned {
		b.preds = append(b.preds, "(owner_id IS NULL OR owner_id = '')")
	}
	if cond.OwnerID != "" {
		b.preds = append(b.preds, "owner_id = "+b.arg(cond.OwnerID))
	}
	if cond.HasAccess != "" {
		b.preds = append(b.preds, "COALESCE(user_access, '{}'::text[]) @> ARRAY["+b.arg(cond.HasAccess)+"::text]")
	}
	if cond.LacksAccess != "" {
		b.preds = append(b.preds, "NOT (COALESCE(user_access, '{}'::text[]) @> ARRAY["+b.arg(cond.LacksAccess)+"::text])")
	}
}

func (b *updateBuilder) conditions() string {
	if len(b.preds) == 0 {
		return ""
	}
	return " AND " + strings.Join(b.preds, " AND ")
}

// scanDevice scans a single device row.
func scanDevice(row pgx.Row) (*Device, error) {
	var (
		device      Device
		ownerID     *string
		lastCommand *string
	)

	err := row.Scan(
		&device.ID,
		&ownerID,
		&device.Name,
		&device.UserAccess,
		&lastCommand,
		&device.LastCommandTime,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if ownerID != nil {
		device.OwnerID = *ownerID
	}
	if lastCommand != nil {
		device.LastCommand = Action(*lastCommand)
	}

	return &device, nil
}

// accessList returns an empty list for nil; pgx encodes a nil slice as NULL.
func accessList(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
