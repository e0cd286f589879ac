package engine

import (
	"github.com/roach88/stepwise/internal/ir"
)

// documentHash is the result of reading and hashing a plan document.
// err is set when the document could not be read; an unreadable document
// is treated as drifted.
type documentHash struct {
	hash string
	err  error
}

// hashDocument reads the plan document and hashes it. It runs before the
// write transaction is opened so file I/O never extends the lock window.
func (e *Engine) hashDocument(plan string) documentHash {
	src, err := e.docs.ReadDocument(plan)
	if err != nil {
		return documentHash{err: err}
	}
	return documentHash{hash: ir.PlanHash(src)}
}

// checkDrift compares the stored baseline with the current document.
func checkDrift(p ir.Plan, current documentHash) error {
	if current.err != nil {
		return ir.NewPlanDriftedError(p.Path, p.Hash, "", current.err)
	}
	if current.hash != p.Hash {
		return ir.NewPlanDriftedError(p.Path, p.Hash, current.hash, nil)
	}
	return nil
}

// DriftStatus is the informational drift report returned by Show.
type DriftStatus struct {
	Drifted     bool   `json:"drifted"`
	StoredHash  string `json:"stored_hash"`
	CurrentHash string `json:"current_hash,omitempty"`
	Warning     string `json:"warning,omitempty"`
}

func driftStatus(p ir.Plan, current documentHash) DriftStatus {
	st := DriftStatus{StoredHash: p.Hash, CurrentHash: current.hash}
	if err := checkDrift(p, current); err != nil {
		st.Drifted = true
		st.Warning = err.Error()
	}
	return st
}
