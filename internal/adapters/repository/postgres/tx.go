package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/okian/kudos/internal/adapters/repository"
	"github.com/okian/kudos/internal/domain/model"
)

// txn locks every user it reads and stages user writes until flush.
type txn struct {
	tx pgx.Tx

	read   map[string]model.User
	staged map[string]model.User
	order  []string
	ledger []model.LedgerEntry
}

var _ repository.Tx = (*txn)(nil)

func newTxn(tx pgx.Tx) *txn {
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
	u, err := loadUser(ctx, t.tx, id, true)
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
	_, err := t.tx.Exec(ctx,
		`INSERT INTO achievements (user_id, achievement_id, event_id, xp, badge, earned_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.UserID, r.AchievementID, r.EventID, r.XP, r.Badge, r.EarnedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert achievement: %w", err)
	}
	return nil
}

func (t *txn) AppendLedger(ctx context.Context, e model.LedgerEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ledger (id, type, amount, from_account, to_account, reason, event_id, ts) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Type, e.Amount, e.From, e.To, e.Reason, e.EventID, e.Timestamp.UTC())
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
	tag, err := t.tx.Exec(ctx,
		`UPDATE events SET processed = TRUE, processing_error = '', result = $1 WHERE id = $2 AND NOT processed`, doc, id)
	if err != nil {
		return fmt.Errorf("complete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := loadEvent(ctx, t.tx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", repository.ErrEventProcessed, id)
	}
	return nil
}

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
		_, err = t.tx.Exec(ctx, `UPDATE users SET display_name = $1, team_id = $2, xp = $3, points = $4, level = $5,
	unlocked = $6, progress = $7, last_action = $8, version = $9 WHERE id = $10`,
			u.DisplayName, u.TeamID, u.XP, u.Points, u.Level, unlocked, progress, action, u.Version, u.ID)
		if err != nil {
			return fmt.Errorf("update user %s: %w", id, err)
		}
		t.staged[id] = u
	}
	return nil
}

func (t *txn) changes() []model.UserChange {
	var out []model.UserChange
	for _, id := range t.order {
		if c, ok := repository.XPChange(t.read[id].XP, t.staged[id], repository.ChangeSource(id, t.ledger)); ok {
			out = append(out, c)
		}
	}
	return out
}
