package reconcile

import "github.com/parchmentco/ledger/pkg/chat"

// Kind enumerates the reconcile outcomes for one snapshot against the
// persisted buffer. Computing the decision once and dispatching on it keeps
// the persistence side effects in a single switch instead of scattering the
// conditions across call sites.
type Kind int

const (
	// KindNoop leaves the buffer untouched.
	KindNoop Kind = iota

	// KindSeed inserts the snapshot's last message into an empty buffer.
	KindSeed

	// KindAppend appends the snapshot's last message as a new row.
	KindAppend

	// KindExactResend is an idempotent resend of the trailing user message.
	// Nothing is inserted; a stale trailing assistant reply, if present, is
	// deleted.
	KindExactResend

	// KindDuplicateUser discards a stale trailing user message whose
	// assistant turn never completed, then inserts the incoming one fresh.
	KindDuplicateUser

	// KindAssistantEdit rewrites the trailing assistant message's content
	// in place, collapsing a regenerated reply onto the stored one.
	KindAssistantEdit
)

// String returns the wire name of the decision kind.
func (k Kind) String() string {
	switch k {
	case KindSeed:
		return "seed"
	case KindAppend:
		return "append"
	case KindExactResend:
		return "exact_resend"
	case KindDuplicateUser:
		return "duplicate_user"
	case KindAssistantEdit:
		return "assistant_edit"
	default:
		return "noop"
	}
}

// Decision is the outcome of comparing a snapshot against the persisted
// buffer, plus the row ids its dispatch needs.
type Decision struct {
	Kind Kind

	// DeleteFromID is the first stale row to delete, for KindDuplicateUser
	// and KindExactResend. Zero means nothing to delete.
	DeleteFromID int64

	// EditID is the assistant row rewritten in place, for KindAssistantEdit.
	EditID int64
}

// Decide computes the reconcile decision from the persisted buffer and the
// client's snapshot. Only the snapshot's last element is ever persisted; the
// rest is context the client resends.
func Decide(buffer []chat.Message, snapshot []chat.RawMessage) Decision {
	if len(snapshot) == 0 {
		return Decision{Kind: KindNoop}
	}
	if len(buffer) == 0 {
		return Decision{Kind: KindSeed}
	}

	lastIn := snapshot[len(snapshot)-1]
	lastDB := buffer[len(buffer)-1]

	switch lastIn.Role {
	case chat.RoleUser:
		return decideUser(buffer, lastDB, lastIn)

	case chat.RoleAssistant:
		if lastDB.Role != chat.RoleAssistant {
			return Decision{Kind: KindAppend}
		}
		if lastDB.Content == lastIn.Content {
			return Decision{Kind: KindNoop}
		}
		// Two adjacent assistant turns never coexist; the client
		// regenerated its reply to the same user message.
		return Decision{Kind: KindAssistantEdit, EditID: lastDB.ID}

	default:
		return Decision{Kind: KindAppend}
	}
}

func decideUser(buffer []chat.Message, lastDB chat.Message, lastIn chat.RawMessage) Decision {
	switch lastDB.Role {
	case chat.RoleUser:
		if lastDB.Content == lastIn.Content {
			// Same user message resent, no reply recorded yet.
			return Decision{Kind: KindExactResend}
		}
		// The previous request's assistant turn never completed. The
		// stale user row is discarded so the buffer never holds two
		// consecutive user turns.
		return Decision{Kind: KindDuplicateUser, DeleteFromID: lastDB.ID}

	case chat.RoleAssistant:
		// Walk back past the trailing assistant reply to the user turn
		// it answers. A resend of that same user message means the
		// recorded reply is stale and should be dropped with it.
		i := len(buffer) - 1
		for i >= 0 && buffer[i].Role == chat.RoleAssistant {
			i--
		}
		if i >= 0 && buffer[i].Role == chat.RoleUser && buffer[i].Content == lastIn.Content {
			return Decision{Kind: KindExactResend, DeleteFromID: buffer[i+1].ID}
		}
		// Only a trailing assistant message is ever treated as an edit.
		// A snapshot whose second-to-last element is a regenerated reply
		// followed by a new user turn appends the user turn; the stored
		// reply stands as sent.
		return Decision{Kind: KindAppend}

	default:
		return Decision{Kind: KindAppend}
	}
}
