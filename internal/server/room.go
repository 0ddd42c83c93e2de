package server

import "sync"

// roomIndex maps room ids to the connections on this process subscribed to
// them. Subscriptions are per connection, not per user.
type roomIndex struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func newRoomIndex() *roomIndex {
	return &roomIndex{rooms: make(map[string]map[*Client]struct{})}
}

// subscribe reports whether c was not already subscribed to roomId.
func (ri *roomIndex) subscribe(roomId string, c *Client) bool {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	clients, ok := ri.rooms[roomId]
	if !ok {
		clients = make(map[*Client]struct{})
		ri.rooms[roomId] = clients
	}
	if _, ok := clients[c]; ok {
		return false
	}
	clients[c] = struct{}{}
	return true
}

// unsubscribe reports whether c was subscribed to roomId.
func (ri *roomIndex) unsubscribe(roomId string, c *Client) bool {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	clients, ok := ri.rooms[roomId]
	if !ok {
		return false
	}
	if _, ok := clients[c]; !ok {
		return false
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(ri.rooms, roomId)
	}
	return true
}

func (ri *roomIndex) isSubscribed(roomId string, c *Client) bool {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	_, ok := ri.rooms[roomId][c]
	return ok
}

// subscribers returns a snapshot of the connections subscribed to roomId.
func (ri *roomIndex) subscribers(roomId string) []*Client {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	clients := make([]*Client, 0, len(ri.rooms[roomId]))
	for c := range ri.rooms[roomId] {
		clients = append(clients, c)
	}
	return clients
}

// roomsOf lists the rooms c is subscribed to.
func (ri *roomIndex) roomsOf(c *Client) []string {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	var ids []string
	for id, clients := range ri.rooms {
		if _, ok := clients[c]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (ri *roomIndex) activeRooms() int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	return len(ri.rooms)
}
