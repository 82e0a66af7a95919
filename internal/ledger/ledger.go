package ledger

import (
	"errors"
	"sort"

	"github.com/orbisretail/loyalty/internal/model"
)

var (
	ErrNegativeAmount = errors.New("negative amount")
	ErrNegativePoints = errors.New("negative points")
	ErrBadTierTable   = errors.New("tier table is not a partition")
)

// Курс начисления: 1 балл за каждые полные 10 единиц валюты.
// Суммы хранятся в центах
const centsPerPoint = 1000

func PointsForAmount(amountCents int64) (int, error) {
	if amountCents < 0 {
		return 0, ErrNegativeAmount
	}
	return int(amountCents / centsPerPoint), nil
}

// Ledger - неизменяемая таблица ступеней, загружается один раз при старте
type Ledger struct {
	tiers []model.Tier // по возрастанию MinPoints
}

func Default() *Ledger {
	max := func(n int) *int { return &n }
	l, _ := New([]model.Tier{
		{Name: "Bronze", MinPoints: 0, MaxPoints: max(99), DiscountRate: 0},
		{Name: "Silver", MinPoints: 100, MaxPoints: max(499), DiscountRate: 5},
		{Name: "Gold", MinPoints: 500, MaxPoints: max(999), DiscountRate: 10},
		{Name: "Platinum", MinPoints: 1000, MaxPoints: nil, DiscountRate: 15},
	})
	return l
}

func New(tiers []model.Tier) (*Ledger, error) {
	if len(tiers) == 0 {
		return nil, ErrBadTierTable
	}
	sorted := make([]model.Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinPoints < sorted[j].MinPoints })

	// Ступени должны покрывать [0, ∞) без разрывов и пересечений
	if sorted[0].MinPoints != 0 {
		return nil, ErrBadTierTable
	}
	for i, t := range sorted {
		last := i == len(sorted)-1
		if last {
			if t.MaxPoints != nil {
				return nil, ErrBadTierTable
			}
			break
		}
		if t.MaxPoints == nil || *t.MaxPoints != sorted[i+1].MinPoints-1 {
			return nil, ErrBadTierTable
		}
	}

	return &Ledger{tiers: sorted}, nil
}

// TierForPoints возвращает ступень, содержащую points. Просмотр от верхней
// ступени вниз, первое совпадение по MinPoints
func (l *Ledger) TierForPoints(points int) (model.Tier, error) {
	if points < 0 {
		return model.Tier{}, ErrNegativePoints
	}
	for i := len(l.tiers) - 1; i >= 0; i-- {
		if points >= l.tiers[i].MinPoints {
			return l.tiers[i], nil
		}
	}
	// недостижимо: нижняя ступень начинается с нуля
	return l.tiers[0], nil
}

type TierChange struct {
	Changed bool
	OldTier model.Tier
	NewTier model.Tier
}

func (l *Ledger) DetectTierChange(oldPoints, newPoints int) (TierChange, error) {
	oldTier, err := l.TierForPoints(oldPoints)
	if err != nil {
		return TierChange{}, err
	}
	newTier, err := l.TierForPoints(newPoints)
	if err != nil {
		return TierChange{}, err
	}
	return TierChange{
		Changed: oldTier.Name != newTier.Name,
		OldTier: oldTier,
		NewTier: newTier,
	}, nil
}

// Compare: <0 если ступень a ниже b, 0 если совпадают, >0 если выше.
// Неизвестные имена считаются нижней ступенью
func (l *Ledger) Compare(a, b string) int {
	return l.rank(a) - l.rank(b)
}

func (l *Ledger) rank(name string) int {
	for i, t := range l.tiers {
		if t.Name == name {
			return i
		}
	}
	return 0
}

func (l *Ledger) Tiers() []model.Tier {
	tiers := make([]model.Tier, len(l.tiers))
	copy(tiers, l.tiers)
	return tiers
}

func (l *Ledger) Lowest() model.Tier {
	return l.tiers[0]
}
