package consensus

// winner picks the deterministic survivor between two DecideRecords for the
// same need_id using the tiebreak order: higher epoch wins; on equal epoch,
// higher lamport wins; on equal epoch and lamport, lower decider_id (by
// string ordering) wins. The ordering must be total and side-independent so
// every replica that runs it over the same pair reaches the same result.
func winner(a, b *DecideRecord) *DecideRecord {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.Epoch != b.Epoch {
		if a.Epoch > b.Epoch {
			return a
		}
		return b
	}
	if a.Lamport != b.Lamport {
		if a.Lamport > b.Lamport {
			return a
		}
		return b
	}
	if a.DeciderID <= b.DeciderID {
		return a
	}
	return b
}

// MergeOnHeal reconciles two registers' decide records after a network
// partition heals. For every need_id present in either side it resolves
// the winner deterministically and, where local lost to remote, writes the
// remote record into local (local's TryDecide path is bypassed since this
// is a reconciliation write, not a fresh proposal). It returns the set of
// need_ids where local's register was written: either its decision was
// overwritten, or it had none and the remote record was installed.
func MergeOnHeal(local, remote Register, needIDs []string) ([]string, error) {
	var overwritten []string
	for _, needID := range needIDs {
		localRec, err := local.GetDecide(needID)
		if err != nil {
			return overwritten, err
		}
		remoteRec, err := remote.GetDecide(needID)
		if err != nil {
			return overwritten, err
		}
		if localRec == nil && remoteRec == nil {
			continue
		}
		w := winner(localRec, remoteRec)
		if localRec != nil && w.ProposalID == localRec.ProposalID && sameRecord(w, localRec) {
			continue // local already holds the winner
		}
		if err := forceWrite(local, w); err != nil {
			return overwritten, err
		}
		overwritten = append(overwritten, needID)
	}
	return overwritten, nil
}

func sameRecord(a, b *DecideRecord) bool {
	return a.ProposalID == b.ProposalID && a.Epoch == b.Epoch && a.Lamport == b.Lamport && a.DeciderID == b.DeciderID
}

// forceWrite installs rec as the authoritative decision for its need_id,
// bypassing the at-most-once guard — used only by heal-time reconciliation,
// which has already established rec is the deterministic winner.
func forceWrite(reg Register, rec *DecideRecord) error {
	switch r := reg.(type) {
	case *boltRegister:
		return r.forceWrite(rec)
	case *levelRegister:
		return r.forceWrite(rec)
	default:
		return errUnsupportedRegisterForMerge
	}
}
