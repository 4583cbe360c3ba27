package service

import "github.com/rl1809/game-shelf/internal/core/domain"

// DetectChanges compares the tracked fields of local and remote. Fields
// outside domain.TrackedFields are ignored.
func DetectChanges(local, remote domain.Game) domain.Changes {
	changes := domain.Changes{}
	for _, field := range domain.TrackedFields {
		from, _ := local.FieldValue(field)
		to, _ := remote.FieldValue(field)
		if from != to {
			changes[field] = domain.Change{From: from, To: to}
		}
	}
	return changes
}

// Classify splits changes into the critical ones that need a user decision
// and the rest, which may be applied silently.
func Classify(changes domain.Changes) (critical, silent domain.Changes) {
	critical = domain.Changes{}
	silent = domain.Changes{}
	for field, change := range changes {
		if domain.IsCritical(field) {
			critical[field] = change
		} else {
			silent[field] = change
		}
	}
	return critical, silent
}

func HasConflict(changes domain.Changes) bool {
	for field := range changes {
		if domain.IsCritical(field) {
			return true
		}
	}
	return false
}

// MergeFields returns local with the given fields taken from remote.
func MergeFields(local, remote domain.Game, changes domain.Changes) domain.Game {
	merged := local.Clone()
	for field := range changes {
		merged.CopyField(field, remote)
	}
	return merged
}
