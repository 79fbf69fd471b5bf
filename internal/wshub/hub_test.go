package wshub

import (
	"encoding/json"
	"kibaeon/internal/events"
	"sync"
	"testing"
	"time"
)

func newTestClient(userID string) *Client {
	return &Client{UserID: userID, Send: make(chan []byte, 16)}
}

func seatIn(roomID string) func() string {
	return func() string { return roomID }
}

func recv(t *testing.T, c *Client) ServerMessage {
	t.Helper()
	select {
	case data := <-c.Send:
		var got ServerMessage
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return got
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("%s did not receive a message", c.UserID)
	}
	return ServerMessage{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("%s got unexpected message %s", c.UserID, data)
	default:
	}
}

func TestDispatch_RoutesByRoom(t *testing.T) {
	h := NewHub(Options{})

	alice := newTestClient("alice")
	bob := newTestClient("bob")
	carol := newTestClient("carol")
	h.Register(alice, seatIn("ROOM1"))
	h.Register(bob, seatIn("ROOM1"))
	h.Register(carol, seatIn("ROOM2"))
	// Registration announcements
	recv(t, alice)

	h.Dispatch(events.Event{Kind: events.ReadyChanged, RoomID: "ROOM1", UserID: "bob", Version: 3})

	for _, c := range []*Client{alice, bob} {
		got := recv(t, c)
		if got.Type != "event" || got.Event == nil {
			t.Fatalf("message = %+v, want an event", got)
		}
		if got.Event.Kind != events.ReadyChanged || got.Event.Version != 3 {
			t.Errorf("event = %+v", got.Event)
		}
	}
	expectNothing(t, carol)
}

func TestDispatch_JoinAndLeaveUpdateRouting(t *testing.T) {
	h := NewHub(Options{})

	alice := newTestClient("alice")
	dave := newTestClient("dave")
	h.Register(alice, seatIn("ROOM1"))
	h.Register(dave, nil)

	// The joiner receives their own join and is routed from then on.
	h.Dispatch(events.Event{Kind: events.PlayerJoined, RoomID: "ROOM1", UserID: "dave"})
	recv(t, alice)
	recv(t, dave)

	h.Dispatch(events.Event{Kind: events.HostChanged, RoomID: "ROOM1", HostID: "dave"})
	recv(t, alice)
	recv(t, dave)

	// A kicked user hears about the kick and nothing after.
	h.Dispatch(events.Event{Kind: events.PlayerKicked, RoomID: "ROOM1", UserID: "dave"})
	if got := recv(t, dave); got.Event.Kind != events.PlayerKicked {
		t.Errorf("dave got %+v, want player_kicked", got.Event)
	}
	recv(t, alice)

	h.Dispatch(events.Event{Kind: events.ReadyChanged, RoomID: "ROOM1", UserID: "alice"})
	recv(t, alice)
	expectNothing(t, dave)
}

func TestDispatch_RoomDeletedClearsRouting(t *testing.T) {
	h := NewHub(Options{})
	alice := newTestClient("alice")
	h.Register(alice, seatIn("ROOM1"))

	h.Dispatch(events.Event{Kind: events.RoomDeleted, RoomID: "ROOM1"})
	recv(t, alice)

	h.Dispatch(events.Event{Kind: events.ReadyChanged, RoomID: "ROOM1", UserID: "ghost"})
	expectNothing(t, alice)
}

func TestUnregister_AnnouncesAway(t *testing.T) {
	h := NewHub(Options{})

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")
	h.Register(c1, seatIn("ROOM1"))
	h.Register(c2, seatIn("ROOM1"))
	if got := recv(t, c1); got.Type != "online" || got.UserID != "p2" {
		t.Errorf("c1 got %+v, want p2 online", got)
	}

	h.Unregister(c1)

	if _, ok := <-c1.Send; ok {
		t.Error("c1 Send channel should be closed")
	}
	got := recv(t, c2)
	if got.Type != "away" || got.UserID != "p1" {
		t.Errorf("c2 got %+v, want p1 away", got)
	}

	// Unregistering twice is a no-op
	h.Unregister(c1)
}

func TestMultipleSockets(t *testing.T) {
	departed := make(chan string, 1)
	h := NewHub(Options{Grace: time.Millisecond, OnDepart: func(id, _ string) { departed <- id }})

	tab1 := newTestClient("alice")
	tab2 := newTestClient("alice")
	h.Register(tab1, seatIn("ROOM1"))
	h.Register(tab2, nil)

	h.Dispatch(events.Event{Kind: events.ReadyChanged, RoomID: "ROOM1", UserID: "alice"})
	recv(t, tab1)
	recv(t, tab2)

	h.Unregister(tab1)
	if !h.Connected("alice") {
		t.Fatal("alice should still be connected through tab2")
	}
	select {
	case id := <-departed:
		t.Fatalf("%s departed while a socket was still open", id)
	case <-time.After(20 * time.Millisecond):
	}

	h.Unregister(tab2)
	select {
	case id := <-departed:
		if id != "alice" {
			t.Errorf("departed = %q, want alice", id)
		}
	case <-time.After(time.Second):
		t.Fatal("alice did not depart")
	}
}

func TestReconnectCancelsDeparture(t *testing.T) {
	var mu sync.Mutex
	var departed []string
	h := NewHub(Options{Grace: 50 * time.Millisecond, OnDepart: func(id, _ string) {
		mu.Lock()
		departed = append(departed, id)
		mu.Unlock()
	}})

	c := newTestClient("alice")
	h.Register(c, seatIn("ROOM1"))
	h.Unregister(c)
	h.Register(newTestClient("alice"), nil)

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(departed) != 0 {
		t.Errorf("departed = %v, want none after reconnect", departed)
	}
}

func TestClose_StopsPendingDepartures(t *testing.T) {
	departed := make(chan string, 1)
	h := NewHub(Options{Grace: 30 * time.Millisecond, OnDepart: func(id, _ string) { departed <- id }})

	c := newTestClient("alice")
	h.Register(c, nil)
	h.Unregister(c)
	h.Close()

	select {
	case id := <-departed:
		t.Errorf("%s departed after Close", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatch_DropsWhenFull(t *testing.T) {
	h := NewHub(Options{})
	c := &Client{UserID: "alice", Send: make(chan []byte, 1)}
	h.Register(c, seatIn("ROOM1"))

	// Must not block even though the buffer holds only one message
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Dispatch(events.Event{Kind: events.ReadyChanged, RoomID: "ROOM1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full client")
	}
}

func TestDeparture_ReportsRoomAtClose(t *testing.T) {
	type gone struct{ user, room string }
	departed := make(chan gone, 1)
	h := NewHub(Options{Grace: time.Millisecond, OnDepart: func(id, room string) { departed <- gone{id, room} }})

	c := newTestClient("bob")
	h.Register(c, seatIn("ROOM1"))
	h.Unregister(c)

	select {
	case got := <-departed:
		if got.user != "bob" || got.room != "ROOM1" {
			t.Errorf("departed = %+v, want bob from ROOM1", got)
		}
	case <-time.After(time.Second):
		t.Fatal("bob did not depart")
	}
}

func TestRegister_SeatIsAuthoritative(t *testing.T) {
	h := NewHub(Options{})

	tab1 := newTestClient("alice")
	h.Register(tab1, seatIn("ROOM1"))

	// alice left ROOM1 before the second tab connected.
	tab2 := newTestClient("alice")
	h.Register(tab2, seatIn(""))

	h.Dispatch(events.Event{Kind: events.ReadyChanged, RoomID: "ROOM1", UserID: "bob"})
	expectNothing(t, tab1)
	expectNothing(t, tab2)
}

func TestRegister_SeatMessageArrivesFirst(t *testing.T) {
	h := NewHub(Options{})
	c := newTestClient("alice")
	h.Register(c, func() string {
		c.Send <- []byte(`{"t":"room","room":"ROOM1"}`)
		return "ROOM1"
	})
	h.Dispatch(events.Event{Kind: events.ReadyChanged, RoomID: "ROOM1", UserID: "alice"})

	if got := recv(t, c); got.Type != "room" {
		t.Errorf("first message = %+v, want room", got)
	}
	if got := recv(t, c); got.Type != "event" {
		t.Errorf("second message = %+v, want event", got)
	}
}
