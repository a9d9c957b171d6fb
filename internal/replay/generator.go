package replay

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/okian/kudos/internal/domain/model"
)

// Event names the default catalog reacts to, with a weight each.
var triggers = []struct {
	name   string
	weight int
}{
	{"LOGIN", 4},
	{"LOGIN_STREAK", 1},
	{"GAME_COMPLETED", 4},
	{"PRAYER_COMPLETED", 2},
	{"HYMN_READ", 2},
}

// UserIDs returns n synthetic user ids.
func UserIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("replay-user-%04d", i)
	}
	return ids
}

// Generate builds n events spread across users. The same rng yields the
// same names and metadata; ids are always fresh.
func Generate(rng *rand.Rand, users []string, n int) []model.Submission {
	total := 0
	for _, t := range triggers {
		total += t.weight
	}
	now := time.Now().UTC()
	out := make([]model.Submission, n)
	for i := range out {
		pick := rng.IntN(total)
		name := triggers[0].name
		for _, t := range triggers {
			if pick < t.weight {
				name = t.name
				break
			}
			pick -= t.weight
		}
		out[i] = model.Submission{
			ID:        uuid.NewString(),
			UserID:    users[rng.IntN(len(users))],
			Name:      name,
			Metadata:  metadataFor(rng, name),
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
		}
	}
	return out
}

func metadataFor(rng *rand.Rand, name string) map[string]any {
	switch name {
	case "LOGIN_STREAK":
		return map[string]any{"count": 1 + rng.IntN(14)}
	case "GAME_COMPLETED":
		result := "loss"
		if rng.IntN(2) == 0 {
			result = "win"
		}
		return map[string]any{"result": result, "xp": rng.IntN(25)}
	}
	return nil
}
