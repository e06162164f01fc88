package consensus

// Open selects a Register backend based on useLevelDB (the RAFT_CONSENSUS
// flag, resolved by the caller): false uses the bootstrap bbolt backend,
// true uses the clustered-mode goleveldb backend. Both share the same
// on-disk shard layout semantics.
func Open(stateDir string, useLevelDB bool) (Register, error) {
	if useLevelDB {
		return NewLevelRegister(stateDir)
	}
	return NewBoltRegister(stateDir)
}
