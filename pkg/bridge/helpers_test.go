// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aiku/spacebar-bridge/pkg/discord"
	"github.com/aiku/spacebar-bridge/pkg/pairstore"
)

// fakeLink is an in-memory Link with a scripted event queue.
type fakeLink struct {
	mu        sync.Mutex
	selfID    string
	queue     []discord.Event
	ready     bool
	err       error
	presence  bool
	presences []discord.Presence
	connected bool
	closed    bool
	roles     []discord.Role
	channels  []discord.Channel
}

func newFakeLink(selfID string) *fakeLink {
	return &fakeLink{selfID: selfID, ready: true}
}

func (f *fakeLink) Push(evts ...discord.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, evts...)
}

func (f *fakeLink) Poll() (discord.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return discord.Event{}, false
	}
	evt := f.queue[0]
	f.queue = f.queue[1:]
	return evt, true
}

func (f *fakeLink) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

func (f *fakeLink) SetReady(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = ready
}

func (f *fakeLink) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeLink) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeLink) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeLink) SelfID() string { return f.selfID }

func (f *fakeLink) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLink) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeLink) SupportsPresence() bool { return f.presence }

func (f *fakeLink) UpdatePresence(p discord.Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presences = append(f.presences, p)
	return nil
}

func (f *fakeLink) Presences() []discord.Presence {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]discord.Presence(nil), f.presences...)
}

func (f *fakeLink) Roles() []discord.Role       { return f.roles }
func (f *fakeLink) Channels() []discord.Channel { return f.channels }

// senderCall records one Sender invocation.
type senderCall struct {
	Op        string
	ChannelID string
	MessageID string
	Msg       discord.OutgoingMessage
}

// fakeSender records calls and mints sequential message IDs.
type fakeSender struct {
	mu      sync.Mutex
	calls   []senderCall
	nextID  int
	ids     []string
	sendErr error
	delErr  error
	// block makes every call wait for its context.
	block bool
}

func (f *fakeSender) record(c senderCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeSender) Calls() []senderCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]senderCall(nil), f.calls...)
}

func (f *fakeSender) Send(ctx context.Context, channelID string, msg discord.OutgoingMessage) (string, error) {
	f.record(senderCall{Op: "send", ChannelID: channelID, Msg: msg})
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextID < len(f.ids) {
		id := f.ids[f.nextID]
		f.nextID++
		return id, nil
	}
	return "", errors.New("no more IDs")
}

func (f *fakeSender) Edit(ctx context.Context, channelID, messageID string, msg discord.OutgoingMessage) error {
	f.record(senderCall{Op: "edit", ChannelID: channelID, MessageID: messageID, Msg: msg})
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeSender) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.record(senderCall{Op: "delete", ChannelID: channelID, MessageID: messageID})
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.delErr
}

// memStore is a map-backed pairstore.Store.
type memStore struct {
	mu          sync.Mutex
	registered  map[pairstore.Partition]bool
	pairs       map[pairstore.Partition]map[string]string
	registerErr error
	// onDelete runs at the start of each Delete.
	onDelete func()
}

func newMemStore() *memStore {
	return &memStore{
		registered: make(map[pairstore.Partition]bool),
		pairs:      make(map[pairstore.Partition]map[string]string),
	}
}

var _ pairstore.Store = (*memStore)(nil)

func (m *memStore) RegisterPair(_ context.Context, pair pairstore.ChannelPair) (pairstore.Partition, error) {
	if m.registerErr != nil {
		return "", m.registerErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered[pair.Partition()] = true
	return pair.Partition(), nil
}

func (m *memStore) Put(_ context.Context, pair pairstore.ChannelPair, sourceID, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.registered[pair.Partition()] {
		return pairstore.ErrPairNotRegistered
	}
	if m.pairs[pair.Partition()] == nil {
		m.pairs[pair.Partition()] = make(map[string]string)
	}
	m.pairs[pair.Partition()][sourceID] = targetID
	return nil
}

func (m *memStore) Lookup(_ context.Context, pair pairstore.ChannelPair, sourceID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.pairs[pair.Partition()][sourceID]
	return target, ok, nil
}

func (m *memStore) LookupSource(_ context.Context, pair pairstore.ChannelPair, targetID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for source, target := range m.pairs[pair.Partition()] {
		if target == targetID {
			return source, true, nil
		}
	}
	return "", false, nil
}

func (m *memStore) Delete(_ context.Context, pair pairstore.ChannelPair, sourceID string) error {
	if m.onDelete != nil {
		m.onDelete()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pairs[pair.Partition()], sourceID)
	return nil
}

func (m *memStore) Sweep(context.Context, time.Time) (pairstore.SweepResult, error) {
	return pairstore.SweepResult{}, nil
}

func (m *memStore) Partitions(context.Context) ([]pairstore.Partition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []pairstore.Partition
	for p := range m.registered {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

func (m *memStore) Len(pair pairstore.ChannelPair) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pairs[pair.Partition()])
}
