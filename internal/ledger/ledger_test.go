package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbisretail/loyalty/internal/model"
)

func TestPointsForAmount(t *testing.T) {
	tests := []struct {
		name        string
		amountCents int64
		points      int
		err         error
	}{
		{name: "zero", amountCents: 0, points: 0},
		{name: "sub threshold", amountCents: 999, points: 0},
		{name: "exact", amountCents: 1000, points: 1},
		{name: "rounds down", amountCents: 1999, points: 1},
		{name: "hundred dollars", amountCents: 10000, points: 10},
		{name: "negative", amountCents: -10, err: ErrNegativeAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points, err := PointsForAmount(tt.amountCents)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.points, points)
		})
	}
}

func TestTierForPoints(t *testing.T) {
	l := Default()

	tests := []struct {
		points int
		tier   string
	}{
		{0, "Bronze"},
		{99, "Bronze"},
		{100, "Silver"},
		{499, "Silver"},
		{500, "Gold"},
		{999, "Gold"},
		{1000, "Platinum"},
		{1000000, "Platinum"},
	}
	for _, tt := range tests {
		tier, err := l.TierForPoints(tt.points)
		require.NoError(t, err)
		require.Equal(t, tt.tier, tier.Name, "points=%d", tt.points)
	}

	_, err := l.TierForPoints(-1)
	require.ErrorIs(t, err, ErrNegativePoints)
}

// Ступень монотонно не убывает с ростом баллов, разрывов нет
func TestTierMonotonic(t *testing.T) {
	l := Default()

	prev := -1
	for p := 0; p <= 1500; p++ {
		tier, err := l.TierForPoints(p)
		require.NoError(t, err)
		rank := l.rank(tier.Name)
		require.GreaterOrEqual(t, rank, prev, "points=%d", p)
		prev = rank
	}
}

func TestDetectTierChange(t *testing.T) {
	l := Default()

	change, err := l.DetectTierChange(90, 110)
	require.NoError(t, err)
	require.True(t, change.Changed)
	require.Equal(t, "Bronze", change.OldTier.Name)
	require.Equal(t, "Silver", change.NewTier.Name)

	change, err = l.DetectTierChange(200, 205)
	require.NoError(t, err)
	require.False(t, change.Changed)

	// понижение
	change, err = l.DetectTierChange(600, 450)
	require.NoError(t, err)
	require.True(t, change.Changed)
	require.Equal(t, "Gold", change.OldTier.Name)
	require.Equal(t, "Silver", change.NewTier.Name)
	require.Negative(t, l.Compare(change.NewTier.Name, change.OldTier.Name))
}

func TestNewRejectsBadTable(t *testing.T) {
	max := func(n int) *int { return &n }

	tests := []struct {
		name  string
		tiers []model.Tier
	}{
		{name: "empty", tiers: nil},
		{name: "gap", tiers: []model.Tier{
			{Name: "A", MinPoints: 0, MaxPoints: max(50)},
			{Name: "B", MinPoints: 100, MaxPoints: nil},
		}},
		{name: "overlap", tiers: []model.Tier{
			{Name: "A", MinPoints: 0, MaxPoints: max(120)},
			{Name: "B", MinPoints: 100, MaxPoints: nil},
		}},
		{name: "not from zero", tiers: []model.Tier{
			{Name: "A", MinPoints: 10, MaxPoints: nil},
		}},
		{name: "bounded top", tiers: []model.Tier{
			{Name: "A", MinPoints: 0, MaxPoints: max(99)},
			{Name: "B", MinPoints: 100, MaxPoints: max(199)},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.tiers)
			require.ErrorIs(t, err, ErrBadTierTable)
		})
	}
}
