package dkp

import (
	"math"

	"github.com/raidledger/guildops/guildops/apperrors"
)

// supportClasses are the classes whose raid contribution is not captured by
// gear score alone; their reward carries a flat multiplier.
var supportClasses = map[string]bool{
	"cleric":  true,
	"chanter": true,
	"bard":    true,
	"priest":  true,
}

const supportMultiplier = 1.15

// IsSupportClass reports whether the class earns the support multiplier.
// Class names are matched as stored, lowercase.
func IsSupportClass(class string) bool {
	return supportClasses[class]
}

// CalculateReward computes the DKP award for one raid participant:
// bossLevel * gearScore / 100, support classes scaled by 1.15, rounded
// half-up to a whole point.
func CalculateReward(bossLevel int64, gearScore int64, class string) (int64, error) {
	if bossLevel <= 0 {
		return 0, apperrors.NewValidationError("boss level must be positive, got %d", bossLevel)
	}
	if gearScore < 0 {
		return 0, apperrors.NewValidationError("gear score must not be negative, got %d", gearScore)
	}

	reward := float64(bossLevel) * float64(gearScore) / 100.0
	if IsSupportClass(class) {
		reward *= supportMultiplier
	}
	return int64(math.Floor(reward + 0.5)), nil
}
