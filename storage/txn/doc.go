// Package txn implements optimistic transactions over a kv.Store.
//
// A transaction stages its writes in memory and tracks the generation of
// every key it reads. Commit validates the read set against the store,
// records the write set in a manifest, and publishes it by swapping a
// single root pointer with a conditional put. Writes are applied to their
// base keys after the swap and the manifest is then marked applied;
// Recover replays any published manifests missing that marker, so a
// crash between the swap and the apply cannot lose a committed
// transaction.
package txn
