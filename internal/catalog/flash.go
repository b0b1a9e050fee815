package catalog

import "sync"

// FlashStore holds one pending status message per user. A message is read at
// most once.
type FlashStore struct {
	mu   sync.Mutex
	msgs map[int64]string
}

func NewFlashStore() *FlashStore {
	return &FlashStore{msgs: make(map[int64]string)}
}

// Set replaces the user's pending message.
func (f *FlashStore) Set(userID int64, msg string) {
	f.mu.Lock()
	f.msgs[userID] = msg
	f.mu.Unlock()
}

// Pop returns and clears the user's pending message.
func (f *FlashStore) Pop(userID int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.msgs[userID]
	if ok {
		delete(f.msgs, userID)
	}
	return msg, ok
}
