package shared

import "fmt"

// DocumentLockKey builds the redis key guarding payment application on one document.
func DocumentLockKey(kind string, documentID int64) string {
	return fmt.Sprintf("ledger:document:%s:%d:lock", kind, documentID)
}

// AgingCacheNamespace is the redis prefix shared by aging report snapshots.
const AgingCacheNamespace = "ledger:aging"
