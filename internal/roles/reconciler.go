// Package roles keeps the rank roles in line with the monthly ranking.
package roles

import (
	"context"
	"fmt"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/chatrank/internal/database/types"
	"go.uber.org/zap"
)

// Member is a guild member and the roles they hold.
type Member struct {
	UserID  snowflake.ID
	RoleIDs []snowflake.ID
}

// Directory lists guild members and mutates their roles.
type Directory interface {
	Members(ctx context.Context) ([]Member, error)
	AddRole(ctx context.Context, userID, roleID snowflake.ID) error
	RemoveRole(ctx context.Context, userID, roleID snowflake.ID) error
}

// Action is a role mutation.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Failure is a role mutation that did not succeed.
type Failure struct {
	UserID snowflake.ID
	RoleID snowflake.ID
	Action Action
	Err    error
}

// Result summarizes a reconciliation.
type Result struct {
	Removed  int
	Added    int
	Missing  []snowflake.ID
	Failures []Failure
}

// Reconciler assigns rank roles from a ranking.
type Reconciler struct {
	directory Directory
	logger    *zap.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(directory Directory, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		directory: directory,
		logger:    logger.Named("roles"),
	}
}

// Reconcile gives ranking[i] the role roleSlots[i] and takes slot roles away from everyone else.
// All removals happen before any addition. Individual mutation failures are
// collected in the result; only a failed member listing aborts the run.
// Ranked users who are no longer members are reported in Result.Missing.
func (r *Reconciler) Reconcile(
	ctx context.Context, ranking []types.RankingRow, roleSlots []snowflake.ID,
) (Result, error) {
	var result Result

	desired := make(map[snowflake.ID]snowflake.ID, len(roleSlots))
	for i, row := range ranking {
		if i >= len(roleSlots) {
			break
		}

		desired[row.UserID] = roleSlots[i]
	}

	slots := make(map[snowflake.ID]struct{}, len(roleSlots))
	for _, roleID := range roleSlots {
		slots[roleID] = struct{}{}
	}

	members, err := r.directory.Members(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list members: %w", err)
	}

	holding := make(map[snowflake.ID]map[snowflake.ID]struct{}, len(members))

	for _, member := range members {
		held := make(map[snowflake.ID]struct{})
		holding[member.UserID] = held

		for _, roleID := range member.RoleIDs {
			if _, ok := slots[roleID]; !ok {
				continue
			}

			held[roleID] = struct{}{}

			if want, ok := desired[member.UserID]; ok && want == roleID {
				continue
			}

			if err := r.directory.RemoveRole(ctx, member.UserID, roleID); err != nil {
				result.Failures = append(result.Failures, r.failure(member.UserID, roleID, ActionRemove, err))
				continue
			}

			result.Removed++
		}
	}

	for i, row := range ranking {
		if i >= len(roleSlots) {
			break
		}

		roleID := roleSlots[i]

		held, ok := holding[row.UserID]
		if !ok {
			r.logger.Warn("Ranked user is no longer a member",
				zap.Uint64("userID", uint64(row.UserID)),
				zap.Int("rank", row.Rank))

			result.Missing = append(result.Missing, row.UserID)

			continue
		}

		if _, ok := held[roleID]; ok {
			continue
		}

		if err := r.directory.AddRole(ctx, row.UserID, roleID); err != nil {
			result.Failures = append(result.Failures, r.failure(row.UserID, roleID, ActionAdd, err))
			continue
		}

		result.Added++
	}

	r.logger.Info("Reconciled rank roles",
		zap.Int("removed", result.Removed),
		zap.Int("added", result.Added),
		zap.Int("missing", len(result.Missing)),
		zap.Int("failures", len(result.Failures)))

	return result, nil
}

func (r *Reconciler) failure(userID, roleID snowflake.ID, action Action, err error) Failure {
	r.logger.Error("Failed to update role",
		zap.Uint64("userID", uint64(userID)),
		zap.Uint64("roleID", uint64(roleID)),
		zap.String("action", string(action)),
		zap.Error(err))

	return Failure{UserID: userID, RoleID: roleID, Action: action, Err: err}
}
