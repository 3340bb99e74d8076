package server

// backlog keeps the most recent message_received events of a room in
// sequence order.
type backlog struct {
	size    int
	entries []backlogEntry
}

type backlogEntry struct {
	seq uint64
	msg *ServerMessage
}

func newBacklog(size int) *backlog {
	return &backlog{
		size:    size,
		entries: make([]backlogEntry, 0, size),
	}
}

func (b *backlog) add(seq uint64, msg *ServerMessage) {
	if b.size <= 0 {
		return
	}

	if len(b.entries) == b.size {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:len(b.entries)-1]
	}
	b.entries = append(b.entries, backlogEntry{seq: seq, msg: msg})
}

// since returns the events with a sequence number greater than seq, oldest
// first.
func (b *backlog) since(seq uint64) []*ServerMessage {
	var msgs []*ServerMessage
	for _, e := range b.entries {
		if e.seq > seq {
			msgs = append(msgs, e.msg)
		}
	}

	return msgs
}

func (b *backlog) len() int {
	return len(b.entries)
}
