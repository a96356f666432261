package peermessaging

import "sync"

// fileTransferTable is the mutex-guarded table of in-flight transfers
// (§4.H "Insert inbound FileTransfer in pending" / "Update/remove").
type fileTransferTable struct {
	mu        sync.RWMutex
	transfers map[string]*FileTransfer
}

func newFileTransferTable() *fileTransferTable {
	return &fileTransferTable{transfers: map[string]*FileTransfer{}}
}

func (t *fileTransferTable) insert(ft *FileTransfer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transfers[ft.ID] = ft
}

func (t *fileTransferTable) get(id string) (*FileTransfer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ft, ok := t.transfers[id]
	if !ok {
		return nil, false
	}
	cp := *ft
	return &cp, true
}

func (t *fileTransferTable) update(id string, fn func(ft *FileTransfer)) (*FileTransfer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ft, ok := t.transfers[id]
	if !ok {
		return nil, false
	}
	fn(ft)
	cp := *ft
	return &cp, true
}

func (t *fileTransferTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.transfers, id)
}
