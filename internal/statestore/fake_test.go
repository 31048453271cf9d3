package statestore

import "sync"

// fakeTransport is an in-memory Transport used by this package's tests.
// It's intentionally minimal: one table
// is a map of key -> fields, with no real transactionality (RenewDHCP's
// "atomic" multi-row write is represented as a single pseudo-table key so
// tests can assert it happened as one call).
type fakeTransport struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]string
	calls  []Request
	failOp map[string]bool // keyed by Table, forces Do to error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{tables: make(map[string]map[string]map[string]string)}
}

func (f *fakeTransport) Do(req Request) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)

	if f.failOp[req.Table] {
		return Response{OK: false, Err: "injected failure"}, nil
	}

	tbl, ok := f.tables[req.Table]
	if !ok {
		tbl = make(map[string]map[string]string)
		f.tables[req.Table] = tbl
	}

	switch req.Operation {
	case OpGet:
		row, ok := tbl[req.Key]
		if !ok {
			return Response{OK: true, Rows: nil}, nil
		}
		return Response{OK: true, Rows: []map[string]string{row}}, nil
	case OpInsert:
		row := make(map[string]string, len(req.Fields))
		for k, v := range req.Fields {
			row[k] = v
		}
		tbl[req.Key] = row
		return Response{OK: true}, nil
	case OpUpdate:
		row, ok := tbl[req.Key]
		if !ok {
			row = make(map[string]string)
			tbl[req.Key] = row
		}
		for k, v := range req.Fields {
			row[k] = v
		}
		return Response{OK: true}, nil
	case OpDelete:
		delete(tbl, req.Key)
		return Response{OK: true}, nil
	}
	return Response{OK: false, Err: "unknown operation"}, nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) row(table, key string) (map[string]string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[table]
	if !ok {
		return nil, false
	}
	r, ok := t[key]
	return r, ok
}

func (f *fakeTransport) setRow(table, key string, fields map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[table]
	if !ok {
		t = make(map[string]map[string]string)
		f.tables[table] = t
	}
	t[key] = fields
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
