package chat

// Pure transitions over the local message list. The session serializes
// access; these functions only decide what the next list looks like.

// reconcile merges a stream-delivered persisted message into the list.
// Match order matters and must be applied on every event, gaps or not:
//  1. exact id match: already have it, drop the event
//  2. optimistic entry with the same sender and body: the persisted copy
//     arrived before (or instead of) the send response, replace in place
//  3. otherwise append (message from the other party or another device)
func reconcile(list []Message, incoming Message) []Message {
	for _, m := range list {
		if m.ID == incoming.ID {
			return list
		}
	}
	for i, m := range list {
		if m.Optimistic && m.SenderID == incoming.SenderID && m.Body == incoming.Body {
			out := make([]Message, len(list))
			copy(out, list)
			out[i] = incoming
			return out
		}
	}
	return append(list, incoming)
}

// confirm swaps the optimistic entry for the persisted one, preserving its
// position. A miss is fine: the realtime event may have reconciled it first.
func confirm(list []Message, tempID string, persisted Message) []Message {
	for i, m := range list {
		if m.ID == tempID {
			out := make([]Message, len(list))
			copy(out, list)
			out[i] = persisted
			return out
		}
	}
	return list
}

// rollback removes a failed optimistic entry.
func rollback(list []Message, tempID string) []Message {
	out := list[:0:len(list)]
	for _, m := range list {
		if m.ID != tempID {
			out = append(out, m)
		}
	}
	return out
}
