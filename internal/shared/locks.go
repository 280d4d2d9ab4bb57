package shared

import "fmt"

// ConsumptionSnapshotLockKey builds the redis key guarding the nightly
// consumption snapshot so only one worker replica runs it.
func ConsumptionSnapshotLockKey(scope string) string {
	if scope == "" {
		scope = "all"
	}
	return fmt.Sprintf("consumption:snapshot:%s:lock", scope)
}
