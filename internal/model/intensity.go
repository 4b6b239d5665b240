package model

// IntensityTier is the target load level for a workout.
type IntensityTier string

const (
	TierNormal  IntensityTier = "normal"
	TierReduced IntensityTier = "reduced"
	TierBackup  IntensityTier = "backup"
)

// Downshift lowers the tier by one step. Backup is the floor.
func (t IntensityTier) Downshift() IntensityTier {
	switch t {
	case TierNormal:
		return TierReduced
	default:
		return TierBackup
	}
}

// RecoveryTier is the discrete label derived from the health snapshot.
type RecoveryTier string

const (
	RecoveryExcellent RecoveryTier = "excellent"
	RecoveryGood      RecoveryTier = "good"
	RecoveryFair      RecoveryTier = "fair"
	RecoveryPoor      RecoveryTier = "poor"
	RecoveryUnknown   RecoveryTier = "unknown"
)
