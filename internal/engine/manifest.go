package engine

// ManifestStore is the durable record of prior backup state.
// Upsert merges locations of different backend kinds for the same path.
type ManifestStore interface {
	// Lookup returns the entry for path, or nil if none exists.
	Lookup(path string) (*ManifestEntry, error)

	// Upsert merges entry into the stored state atomically.
	Upsert(entry *ManifestEntry) error

	// Snapshot returns every entry ordered by path.
	Snapshot() ([]*ManifestEntry, error)

	// Check verifies the store is readable and structurally sound.
	Check() error

	Close() error
}
