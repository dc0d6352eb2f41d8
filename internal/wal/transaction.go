package wal

// Transaction is a session's handle on one in-progress logical unit of
// work: its transaction ID, the LSN of the last record it wrote, and
// whether it is still open (spec.md §3 "transaction state").
type Transaction struct {
	manager    *Manager
	ID         uint32
	LastLSN    LSN
	InProgress bool
}

// Begin appends a START record and returns a handle for logging this
// transaction's updates.
func (m *Manager) Begin() (*Transaction, error) {
	m.mu.Lock()
	id := m.nextTxnID
	m.nextTxnID++
	m.mu.Unlock()

	lsn, err := m.Append(Record{Type: StartTxn, TxnID: id})
	if err != nil {
		return nil, err
	}
	return &Transaction{manager: m, ID: id, LastLSN: lsn, InProgress: true}, nil
}

// LogUpdate diffs old against next (a data page's before/after images)
// and, if they differ, appends an UPDATE_PAGE record chained off this
// transaction's last LSN. Per spec.md §4.8's WAL discipline, callers
// must call this — and the record must be durable — before the dirty
// page itself may be written back.
func (t *Transaction) LogUpdate(fileName string, pageNo uint16, old, next []byte) (LSN, error) {
	segments := DiffSegments(old, next)
	if len(segments) == 0 {
		return t.LastLSN, nil
	}

	lsn, err := t.manager.Append(Record{
		Type:     UpdatePage,
		TxnID:    t.ID,
		PrevLSN:  t.LastLSN,
		FileName: fileName,
		PageNo:   pageNo,
		Segments: segments,
	})
	if err != nil {
		return LSN{}, err
	}
	t.LastLSN = lsn
	return lsn, nil
}

// Commit appends a COMMIT record. The transaction is closed on return
// regardless of error, matching spec.md §4.8's clearing of session
// transaction state "only after a successful commit flush or on abort".
func (t *Transaction) Commit() error {
	lsn, err := t.manager.Append(Record{Type: CommitTxn, TxnID: t.ID, PrevLSN: t.LastLSN})
	t.InProgress = false
	if err != nil {
		return err
	}
	t.LastLSN = lsn
	return nil
}

// Abort rolls this transaction back via Rollback and marks it closed.
func (t *Transaction) Abort() error {
	err := Rollback(t.manager, t.manager.baseDir, t.ID, t.LastLSN)
	t.InProgress = false
	return err
}
