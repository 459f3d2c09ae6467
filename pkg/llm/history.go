package llm

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrPendingTurn is returned when a model turn is staged while another
	// one is still waiting for its tool results.
	ErrPendingTurn = errors.New("history: a model turn is already pending")
	// ErrNoPendingTurn is returned when committing without a staged turn.
	ErrNoPendingTurn = errors.New("history: no pending model turn")
)

// PairingError reports a tool turn that does not answer every call id of the
// model turn it follows.
type PairingError struct {
	Missing []string
}

func (e *PairingError) Error() string {
	return fmt.Sprintf("history: tool results missing for call ids %v", e.Missing)
}

// History 管理單一 Agent 的對話歷史。
// committed 只會往後追加；尚未取得工具結果的模型回覆放在 pending，
// 讓 Snapshot 能帶著最新的模型輸出，又不會留下未配對的工具調用。
type History struct {
	committed []Turn
	pending   *Turn
	mu        sync.RWMutex
}

// NewHistory 建立一個空的歷史紀錄
func NewHistory() *History {
	return &History{}
}

// AppendUser commits a user text turn.
func (h *History) AppendUser(text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending != nil {
		return ErrPendingTurn
	}
	h.committed = append(h.committed, NewUserTurn(text))
	return nil
}

// Stage places the model's turn, verbatim, in the pending slot.
func (h *History) Stage(turn Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending != nil {
		return ErrPendingTurn
	}
	t := turn
	h.pending = &t
	return nil
}

// CommitFinal commits the pending model turn on its own. It is used for
// final answers, which carry no tool calls.
func (h *History) CommitFinal() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending == nil {
		return ErrNoPendingTurn
	}
	if ids := callIDs(*h.pending); len(ids) > 0 {
		return &PairingError{Missing: ids}
	}
	h.committed = append(h.committed, *h.pending)
	h.pending = nil
	return nil
}

// CommitTools commits the pending model turn followed by its tool turn.
// The tool turn must hold a response for every requested call id.
func (h *History) CommitTools(toolTurn Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending == nil {
		return ErrNoPendingTurn
	}
	if missing := missingIDs(*h.pending, toolTurn); len(missing) > 0 {
		return &PairingError{Missing: missing}
	}
	h.committed = append(h.committed, *h.pending, toolTurn)
	h.pending = nil
	return nil
}

// Abandon repairs an interrupted iteration. The pending model turn is
// committed together with partial, and every call left unanswered gets a
// placeholder response carrying reason. A pending turn without tool calls is
// committed alone.
func (h *History) Abandon(partial []ToolResponse, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending == nil {
		return
	}
	calls := h.pending.ToolCalls()
	if len(calls) == 0 {
		h.committed = append(h.committed, *h.pending)
		h.pending = nil
		return
	}

	answered := make(map[string]ToolResponse, len(partial))
	for _, r := range partial {
		answered[r.ID] = r
	}
	responses := make([]ToolResponse, 0, len(calls))
	for _, c := range calls {
		if r, ok := answered[c.ID]; ok {
			responses = append(responses, r)
			continue
		}
		responses = append(responses, ToolResponse{
			ID:      c.ID,
			Name:    c.Name,
			Payload: map[string]any{"error": reason},
		})
	}
	h.committed = append(h.committed, *h.pending, NewToolTurn(responses...))
	h.pending = nil
}

// Snapshot returns the committed turns followed by the pending one, if any.
func (h *History) Snapshot() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.committed)
	if h.pending != nil {
		n++
	}
	cp := make([]Turn, 0, n)
	cp = append(cp, h.committed...)
	if h.pending != nil {
		cp = append(cp, *h.pending)
	}
	return cp
}

// Committed returns only the committed turns.
func (h *History) Committed() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make([]Turn, len(h.committed))
	copy(cp, h.committed)
	return cp
}

// Pending returns the staged model turn.
func (h *History) Pending() (Turn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.pending == nil {
		return Turn{}, false
	}
	return *h.pending, true
}

// Len returns the number of committed turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.committed)
}

// Seed replaces the whole history. The seed must itself respect tool pairing.
func (h *History) Seed(turns []Turn) error {
	if err := ValidatePairing(turns); err != nil {
		return err
	}
	cp := make([]Turn, len(turns))
	copy(cp, turns)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.committed = cp
	h.pending = nil
	return nil
}

// Reset clears the history.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.committed = nil
	h.pending = nil
}

// ValidatePairing checks that every model turn with tool calls is
// immediately followed by a tool turn answering all of them.
func ValidatePairing(turns []Turn) error {
	for i, t := range turns {
		if t.Role != RoleModel || !t.HasToolCalls() {
			continue
		}
		if i+1 >= len(turns) || turns[i+1].Role != RoleTool {
			return &PairingError{Missing: callIDs(t)}
		}
		if missing := missingIDs(t, turns[i+1]); len(missing) > 0 {
			return &PairingError{Missing: missing}
		}
	}
	return nil
}

func callIDs(t Turn) []string {
	var ids []string
	for _, c := range t.ToolCalls() {
		ids = append(ids, c.ID)
	}
	return ids
}

func missingIDs(model, tool Turn) []string {
	got := make(map[string]struct{})
	for _, r := range tool.ToolResponses() {
		got[r.ID] = struct{}{}
	}
	var missing []string
	for _, c := range model.ToolCalls() {
		if _, ok := got[c.ID]; !ok {
			missing = append(missing, c.ID)
		}
	}
	return missing
}
