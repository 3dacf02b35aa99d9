package wallet

import "sync"

// handlerRegistry holds external-event subscriptions with deterministic
// unsubscription: each registration gets its own id, and calling the
// returned function twice is harmless.
type handlerRegistry struct {
	mu       sync.Mutex
	nextID   int
	accounts map[int]AccountsHandler
	chain    map[int]ChainHandler
}

func (r *handlerRegistry) addAccounts(h AccountsHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.accounts == nil {
		r.accounts = make(map[int]AccountsHandler)
	}
	r.nextID++
	id := r.nextID
	r.accounts[id] = h
	return func() {
		r.mu.Lock()
		delete(r.accounts, id)
		r.mu.Unlock()
	}
}

func (r *handlerRegistry) addChain(h ChainHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chain == nil {
		r.chain = make(map[int]ChainHandler)
	}
	r.nextID++
	id := r.nextID
	r.chain[id] = h
	return func() {
		r.mu.Lock()
		delete(r.chain, id)
		r.mu.Unlock()
	}
}

func (r *handlerRegistry) emitAccounts(accounts []string) {
	r.mu.Lock()
	handlers := make([]AccountsHandler, 0, len(r.accounts))
	for _, h := range r.accounts {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()
	for _, h := range handlers {
		h(accounts)
	}
}

func (r *handlerRegistry) emitChain(wireID string) {
	r.mu.Lock()
	handlers := make([]ChainHandler, 0, len(r.chain))
	for _, h := range r.chain {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()
	for _, h := range handlers {
		h(wireID)
	}
}
