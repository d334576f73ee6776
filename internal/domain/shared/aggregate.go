package shared

// Versioned is implemented by records guarded by optimistic locking
type Versioned interface {
	GetVersion() int
	IncrementVersion()
}

// BaseVersioned carries the optimistic-lock version of a mutable record.
// Updates are conditioned on the loaded version and bump it by one.
type BaseVersioned struct {
	Version int
}

// GetVersion returns the version the record was loaded at
func (v *BaseVersioned) GetVersion() int {
	return v.Version
}

// IncrementVersion advances the version after a successful conditional update
func (v *BaseVersioned) IncrementVersion() {
	v.Version++
}
