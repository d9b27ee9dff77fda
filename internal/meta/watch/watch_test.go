package watch

import "testing"

func TestAddAndRemoveWatch(t *testing.T) {
	m := New(100)
	id := m.AddWatch(1, 100, false)
	if m.WatchCount() != 1 {
		t.Fatalf("expected 1 watch")
	}
	if !m.RemoveWatch(id) {
		t.Fatalf("expected removal to succeed")
	}
	if m.WatchCount() != 0 {
		t.Fatalf("expected 0 watches after removal")
	}
	if m.RemoveWatch(id) {
		t.Fatalf("expected removing an already-removed watch to fail")
	}
}

func TestNotifyCreateEventReachesParentWatcher(t *testing.T) {
	m := New(100)
	m.AddWatch(1, 100, false)

	m.Notify(Event{Kind: Create, Parent: 100, Name: "test.txt", Ino: 200})

	events := m.DrainEvents(1)
	if len(events) != 1 || events[0].Kind != Create || events[0].Name != "test.txt" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestNotifyRenameReachesBothParents(t *testing.T) {
	m := New(100)
	m.AddWatch(1, 10, false)
	m.AddWatch(2, 20, false)

	m.Notify(Event{Kind: Rename, OldParent: 10, NewParent: 20, OldName: "a", NewName: "b", Ino: 5})

	if len(m.DrainEvents(1)) != 1 {
		t.Fatalf("expected old parent watcher to be notified")
	}
	if len(m.DrainEvents(2)) != 1 {
		t.Fatalf("expected new parent watcher to be notified")
	}
}

func TestNotifyAttrChangeTargetsInodeItself(t *testing.T) {
	m := New(100)
	m.AddWatch(1, 200, false)
	m.Notify(Event{Kind: AttrChange, Ino: 200})
	if len(m.DrainEvents(1)) != 1 {
		t.Fatalf("expected attr change to reach the watching client")
	}
}

func TestDrainEventsEmptiesQueue(t *testing.T) {
	m := New(100)
	m.AddWatch(1, 100, false)
	m.Notify(Event{Kind: Create, Parent: 100, Name: "a", Ino: 1})
	m.Notify(Event{Kind: Create, Parent: 100, Name: "b", Ino: 2})

	if len(m.DrainEvents(1)) != 2 {
		t.Fatalf("expected 2 events on first drain")
	}
	if len(m.DrainEvents(1)) != 0 {
		t.Fatalf("expected second drain to be empty")
	}
}

func TestRemoveClientWatchesDropsAll(t *testing.T) {
	m := New(100)
	m.AddWatch(1, 100, false)
	m.AddWatch(1, 200, false)
	m.AddWatch(2, 300, false)

	if n := m.RemoveClientWatches(1); n != 2 {
		t.Fatalf("expected 2 watches removed, got %d", n)
	}
	if m.WatchCount() != 1 {
		t.Fatalf("expected 1 watch remaining")
	}
}

func TestMaxEventsPerClientDropsExcess(t *testing.T) {
	m := New(2)
	m.AddWatch(1, 100, false)

	m.Notify(Event{Kind: Create, Parent: 100, Name: "a", Ino: 1})
	m.Notify(Event{Kind: Create, Parent: 100, Name: "b", Ino: 2})
	m.Notify(Event{Kind: Create, Parent: 100, Name: "c", Ino: 3})

	events := m.DrainEvents(1)
	if len(events) != 2 {
		t.Fatalf("expected only 2 events retained, got %d", len(events))
	}
	if m.DroppedCount(1) != 1 {
		t.Fatalf("expected 1 dropped event recorded, got %d", m.DroppedCount(1))
	}
}

func TestWatchesOnInode(t *testing.T) {
	m := New(100)
	m.AddWatch(1, 100, false)
	m.AddWatch(2, 100, false)
	m.AddWatch(3, 200, false)

	if len(m.WatchesOn(100)) != 2 {
		t.Fatalf("expected 2 watches on inode 100")
	}
	if len(m.WatchesOn(999)) != 0 {
		t.Fatalf("expected no watches on an unwatched inode")
	}
}
