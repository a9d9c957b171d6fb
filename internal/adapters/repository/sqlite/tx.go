package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/okian/kudos/internal/adapters/repository"
	"github.com/okian/kudos/internal/domain/model"
)

// txn stages user writes until flush; every other write goes straight to
// the database transaction.
type txn struct {
	tx *sql.Tx

	read   map[string]model.User
	staged map[string]model.User
	order  []string
	ledger []model.LedgerEntry
}

var _ repository.Tx = (*txn)(nil)

func newTxn(tx *sql.Tx) *txn {
	return &txn{
		tx:     tx,
		read:   make(map[string]model.User),
		staged: make(map[string]model.User),
	}
}

func (t *txn) Event(ctx context.Context, id string) (model.Event, error) {
	return loadEvent(ctx, t.tx, id)
}

func (t *txn) User(ctx context.Context, id string) (model.User, error) {
	if u, ok := t.staged[id]; ok {
		return u.Clone(), nil
	}
	if u, ok := t.read[id]; ok {
		return u.Clone(), nil
	}
	u, err := loadUser(ctx, t.tx, id)
	if err != nil {
		return model.User{}, err
	}
	t.read[id] = u
	return u.Clone(), nil
}

func (t *txn) SaveUser(ctx context.Context, u model.User) error {
	if _, err := t.User(ctx, u.ID); err != nil {
		return err
	}
	if _, ok := t.staged[u.ID]; !ok {
		t.order = append(t.order, u.ID)
	}
	t.staged[u.ID] = u.Clone()
	return nil
}

func (t *txn) AppendAchievement(ctx context.Context, r model.AchievementRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO achievements (user_id, achievement_id, event_id, xp, badge, earned_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.UserID, r.AchievementID, r.EventID, r.XP, r.Badge, millis(r.EarnedAt))
	if err != nil {
		return fmt.Errorf("insert achievement: %w", err)
	}
	return nil
}

func (t *txn) AppendLedger(ctx context.Context, e model.LedgerEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO ledger (id, type, amount, from_account, to_account, reason, event_id, ts) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.Amount, e.From, e.To, e.Reason, e.EventID, millis(e.Timestamp))
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	t.ledger = append(t.ledger, e)
	return nil
}

func (t *txn) CompleteEvent(ctx context.Context, id string, res model.EventResult) error {
	if res.Unlocked == nil {
		res.Unlocked = []string{}
	}
	doc, err := repository.EncodeDoc(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	r, err := t.tx.ExecContext(ctx,
		`UPDATE events SET processed = 1, processing_error = '', result = ? WHERE id = ? AND processed = 0`, doc, id)
	if err != nil {
		return fmt.Errorf("complete event: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		if _, err := loadEvent(ctx, t.tx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", repository.ErrEventProcessed, id)
	}
	return nil
}

// flush writes staged users with their next version.
func (t *txn) flush(ctx context.Context) error {
	for _, id := range t.order {
		u := t.staged[id]
		u.Version = t.read[id].Version + 1
		unlocked, err := repository.EncodeDoc(u.UnlockedAchievements)
		if err != nil {
			return err
		}
		progress, err := repository.EncodeDoc(u.AchievementProgress)
		if err != nil {
			return err
		}
		action, err := repository.EncodeDoc(u.AchievementLastAction)
		if err != nil {
			return err
		}
		_, err = t.tx.ExecContext(ctx, `UPDATE users SET display_name = ?, team_id = ?, xp = ?, points = ?, level = ?,
	unlocked = ?, progress = ?, last_action = ?, version = ? WHERE id = ?`,
			u.DisplayName, u.TeamID, u.XP, u.Points, u.Level, unlocked, progress, action, u.Version, u.ID)
		if err != nil {
			return fmt.Errorf("update user %s: %w", id, err)
		}
		t.staged[id] = u
	}
	return nil
}

// changes lists the xp changes of a flushed transaction.
func (t *txn) changes() []model.UserChange {
	var out []model.UserChange
	for _, id := range t.order {
		if c, ok := repository.XPChange(t.read[id].XP, t.staged[id], repository.ChangeSource(id, t.ledger)); ok {
			out = append(out, c)
		}
	}
	return out
}
