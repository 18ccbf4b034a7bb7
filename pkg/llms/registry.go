package llms

import "sync"

// Clients are singletons keyed by (model, base URL, credentials) so
// concurrent agents share a connection pool without mixing credentials.
var (
	clientsMu sync.Mutex
	clients   = make(map[string]*Client)
)

// Get returns the shared client for the config key, constructing it on
// first use.
func Get(config Config) *Client {
	clientsMu.Lock()
	defer clientsMu.Unlock()

	key := config.key()
	if c, ok := clients[key]; ok {
		return c
	}
	c := NewClient(config)
	clients[key] = c
	return c
}

// Clear releases the client for the config key.
func Clear(config Config) {
	clientsMu.Lock()
	defer clientsMu.Unlock()
	delete(clients, config.key())
}

// ClearAll releases every cached client.
func ClearAll() {
	clientsMu.Lock()
	defer clientsMu.Unlock()
	clients = make(map[string]*Client)
}
