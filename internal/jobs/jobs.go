package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"racket/internal/game"
)

const (
	heatDecayPerRun   = 5
	newbieLevelCap    = 10
	maxAccrualHours   = 24
	districtWindow    = 24 * time.Hour
	crimeWeight       = 2
	tradeWeight       = 1
	crewXPPerLevel    = 1000
	crewMaxLevel      = 50
	crewMembersPerLvl = 2
	weeklyRetainWeeks = 12
	idempotencyMaxAge = 24 * time.Hour
	districtScoreMax  = 100.0
)

var (
	upgradeRate   = decimal.RequireFromString("0.20")
	employeeRate  = decimal.RequireFromString("0.10")
	hundred       = decimal.NewFromInt(100)
	blendPrevious = decimal.RequireFromString("0.7")
	blendCurrent  = decimal.RequireFromString("0.3")
)

// EnergyRegen adds the regen increment, plus any active additive energy_regen
// modifier, to every player below their cap. Energy never exceeds the cap.
func (r *Runner) EnergyRegen(ctx context.Context, now time.Time) (JobSummary, error) {
	ids, err := r.store.PlayersBelowEnergyCap(ctx)
	if err != nil {
		return JobSummary{}, err
	}
	mods := r.modifiers(ctx, "")
	inc := int32(mods.Apply(game.ModEnergyRegen, float64(r.energyIncrement)))
	if inc <= 0 {
		return JobSummary{Job: "energy_regen", Scanned: len(ids)}, nil
	}
	return r.forEach(ctx, "energy_regen", ids, func(ctx context.Context, id string) (bool, int64, error) {
		var gained int32
		err := r.store.InTx(ctx, func(tx game.Tx) error {
			p, err := tx.LockPlayer(ctx, id)
			if err != nil {
				return err
			}
			if p.Energy >= p.MaxEnergy {
				return nil
			}
			next := min(p.Energy+inc, p.MaxEnergy)
			gained = next - p.Energy
			p.Energy = next
			return tx.SavePlayer(ctx, p)
		})
		return gained > 0, int64(gained), err
	})
}

// HourlyIncome is floor(base × (1 + upgrade×0.20 + efficiency/100 +
// employees×0.10)) scaled by the business_income modifier and floored again,
// minus the hourly cost, never below zero.
func HourlyIncome(b game.Business, mods game.ModifierSet) int64 {
	mult := decimal.NewFromInt(1).
		Add(decimal.NewFromInt32(b.UpgradeLevel).Mul(upgradeRate)).
		Add(decimal.NewFromInt32(b.EfficiencyBonus).Div(hundred)).
		Add(decimal.NewFromInt32(b.EmployeeCount).Mul(employeeRate))
	gross := decimal.NewFromInt(b.BaseIncome).Mul(mult).Floor()
	if m, ok := mods[game.ModBusinessIncome]; ok {
		gross = decimal.NewFromFloat(mods.Apply(m.Key, gross.InexactFloat64())).Floor()
	}
	net := gross.IntPart() - b.HourlyCost
	if net < 0 {
		return 0
	}
	return net
}

// BusinessIncome accrues one hour of income per whole hour elapsed since the
// business last accrued. A business seen for the first time accrues one hour.
// Catch-up is capped at maxAccrualHours; hours beyond the cap are forfeited.
func (r *Runner) BusinessIncome(ctx context.Context, now time.Time) (JobSummary, error) {
	ids, err := r.store.OpenBusinesses(ctx)
	if err != nil {
		return JobSummary{}, err
	}
	mods := r.modifiers(ctx, "")
	return r.forEach(ctx, "business_income", ids, func(ctx context.Context, id string) (bool, int64, error) {
		var accrued int64
		changed := false
		err := r.store.InTx(ctx, func(tx game.Tx) error {
			b, err := tx.LockBusiness(ctx, id)
			if err != nil {
				return err
			}
			if !b.Open || b.OwnerID == "" {
				return nil
			}
			hours, next := accrualWindow(b.LastAccruedAt, now)
			if hours == 0 {
				return nil
			}
			accrued = HourlyIncome(b, mods) * hours
			b.TotalRevenue += accrued
			b.TotalExpenses += b.HourlyCost * hours
			b.LastAccruedAt = &next
			changed = true
			return tx.SaveBusiness(ctx, b)
		})
		return changed, accrued, err
	})
}

func accrualWindow(last *time.Time, now time.Time) (int64, time.Time) {
	if last == nil {
		return 1, now
	}
	if now.Before(*last) {
		return 0, *last
	}
	hours := int64(now.Sub(*last) / time.Hour)
	if hours > maxAccrualHours {
		return maxAccrualHours, now
	}
	return hours, last.Add(time.Duration(hours) * time.Hour)
}

// HeatDecay lowers every player's heat by heatDecayPerRun, scaled by the
// heat_decay modifier, flooring at zero.
func (r *Runner) HeatDecay(ctx context.Context, now time.Time) (JobSummary, error) {
	ids, err := r.store.PlayersWithHeat(ctx)
	if err != nil {
		return JobSummary{}, err
	}
	decay := int32(r.modifiers(ctx, "").Apply(game.ModHeatDecay, heatDecayPerRun))
	if decay <= 0 {
		return JobSummary{Job: "heat_decay", Scanned: len(ids)}, nil
	}
	return r.forEach(ctx, "heat_decay", ids, func(ctx context.Context, id string) (bool, int64, error) {
		var removed int32
		err := r.store.InTx(ctx, func(tx game.Tx) error {
			p, err := tx.LockPlayer(ctx, id)
			if err != nil {
				return err
			}
			if p.Heat <= 0 {
				return nil
			}
			removed = min(decay, p.Heat)
			p.Heat -= removed
			return tx.SavePlayer(ctx, p)
		})
		return removed > 0, int64(removed), err
	})
}

// NewbieProtection clears protection once the deadline has passed or the
// player reached newbieLevelCap.
func (r *Runner) NewbieProtection(ctx context.Context, now time.Time) (JobSummary, error) {
	ids, err := r.store.ProtectedPlayers(ctx)
	if err != nil {
		return JobSummary{}, err
	}
	return r.forEach(ctx, "newbie_protection", ids, func(ctx context.Context, id string) (bool, int64, error) {
		cleared := false
		err := r.store.InTx(ctx, func(tx game.Tx) error {
			p, err := tx.LockPlayer(ctx, id)
			if err != nil {
				return err
			}
			if !p.NewbieProtected {
				return nil
			}
			expired := p.ProtectedUntil != nil && !now.Before(*p.ProtectedUntil)
			if !expired && p.Level < newbieLevelCap {
				return nil
			}
			p.NewbieProtected = false
			p.ProtectedUntil = nil
			cleared = true
			return tx.SavePlayer(ctx, p)
		})
		return cleared, 1, err
	})
}

// BlendScore mixes a previous score with a fresh one, 70/30, clamped to
// [0, 100] and rounded to two decimals.
func BlendScore(previous, current float64) float64 {
	v := decimal.NewFromFloat(clampScore(previous)).Mul(blendPrevious).
		Add(decimal.NewFromFloat(clampScore(current)).Mul(blendCurrent)).
		Round(2)
	return clampScore(v.InexactFloat64())
}

func clampScore(v float64) float64 {
	return max(0, min(districtScoreMax, v))
}

// DistrictStats blends the last 24h of crime and trade counts into each
// district's crime rate and economy level.
func (r *Runner) DistrictStats(ctx context.Context, now time.Time) (JobSummary, error) {
	districts, err := r.store.Districts(ctx)
	if err != nil {
		return JobSummary{}, err
	}
	activity, err := r.store.DistrictActivity(ctx, now.Add(-districtWindow))
	if err != nil {
		return JobSummary{}, err
	}
	ids := make([]string, len(districts))
	for i, d := range districts {
		ids[i] = d.ID
	}
	return r.forEach(ctx, "district_stats", ids, func(ctx context.Context, id string) (bool, int64, error) {
		a := activity[id]
		changed := false
		err := r.store.InTx(ctx, func(tx game.Tx) error {
			d, err := tx.LockDistrict(ctx, id)
			if err != nil {
				return err
			}
			crime := BlendScore(d.CrimeRate, float64(a.Crimes*crimeWeight))
			economy := BlendScore(d.EconomyLevel, float64(a.Trades*tradeWeight))
			if crime == d.CrimeRate && economy == d.EconomyLevel {
				return nil
			}
			d.CrimeRate, d.EconomyLevel = crime, economy
			changed = true
			return tx.SaveDistrict(ctx, d)
		})
		return changed, a.Crimes + a.Trades, err
	})
}

// CrewStats sets each crew's experience to the sum of its members' and
// levels it up while the threshold is met.
func (r *Runner) CrewStats(ctx context.Context, now time.Time) (JobSummary, error) {
	ids, err := r.store.Crews(ctx)
	if err != nil {
		return JobSummary{}, err
	}
	return r.forEach(ctx, "crew_stats", ids, func(ctx context.Context, id string) (bool, int64, error) {
		xp, err := r.store.CrewMemberExperience(ctx, id)
		if err != nil {
			return false, 0, err
		}
		var levels int64
		changed := false
		err = r.store.InTx(ctx, func(tx game.Tx) error {
			c, err := tx.LockCrew(ctx, id)
			if err != nil {
				return err
			}
			next := LevelCrew(c, xp)
			if next == c {
				return nil
			}
			levels = int64(next.Level - c.Level)
			changed = true
			return tx.SaveCrew(ctx, next)
		})
		return changed, levels, err
	})
}

// LevelCrew applies xp to c: while xp reaches level×1000 and the level is
// below the cap, the crew gains a level and two member slots.
func LevelCrew(c game.Crew, xp int64) game.Crew {
	c.Experience = xp
	if c.Level < 1 {
		c.Level = 1
	}
	for c.Level < crewMaxLevel && c.Experience >= int64(c.Level)*crewXPPerLevel {
		c.Level++
		c.MaxMembers += crewMembersPerLvl
	}
	return c
}

// ListingExpiry runs the marketplace expiry sweep.
func (r *Runner) ListingExpiry(ctx context.Context, now time.Time) (JobSummary, error) {
	if r.sweeper == nil {
		return JobSummary{}, fmt.Errorf("listing expiry: no sweeper configured")
	}
	res, err := r.sweeper.SweepExpired(ctx)
	if err != nil {
		return JobSummary{}, err
	}
	return JobSummary{Scanned: res.Scanned, Updated: res.Expired, Failed: res.Failed, Total: int64(res.Expired)}, nil
}

// WeeklyRetention drops weekly stats older than weeklyRetainWeeks.
func (r *Runner) WeeklyRetention(ctx context.Context, now time.Time) (JobSummary, error) {
	cutoff := game.WeekStart(now).AddDate(0, 0, -7*weeklyRetainWeeks)
	return purged(r.store.PurgeWeeklyStats(ctx, cutoff))
}

func (r *Runner) SessionPurge(ctx context.Context, now time.Time) (JobSummary, error) {
	return purged(r.store.PurgeSessions(ctx, now))
}

func (r *Runner) IdempotencyPurge(ctx context.Context, now time.Time) (JobSummary, error) {
	return purged(r.store.PurgeIdempotencyKeys(ctx, now.Add(-idempotencyMaxAge)))
}

func purged(n int64, err error) (JobSummary, error) {
	if err != nil {
		return JobSummary{}, err
	}
	return JobSummary{Updated: int(n), Total: n}, nil
}
