package ledger

// txn is the undo journal of a single transaction. Every mutation of State
// or Vault registers its inverse so a failure at any step, including the
// final value transfer or the durable commit hook, leaves no trace.
type txn struct {
	undo []func()
}

func (t *txn) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}
