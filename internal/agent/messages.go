// internal/agent/messages.go
package agent

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// MessageManager assembles the bounded, ordered conversation sent to the
// model each step: the fixed instructions entry, a capped rolling summary
// of prior steps, and exactly one current-observation entry. Everything
// retained passes through the redactor first.
type MessageManager struct {
	logger   *zap.Logger
	redactor *Redactor

	instructions string
	task         string

	// maxHistoryItems caps the rolling history block. When the true item
	// count exceeds it, the block keeps the first item plus the most
	// recent maxHistoryItems−1, with a single omission marker in between
	// that does not count against the cap.
	maxHistoryItems int
	historyItems    []string

	// observation is the single per-step observation entry, or nil. It is
	// added before the model call and removed right after the response;
	// removal is idempotent.
	observation *schemas.Message

	// pageURL scopes the redaction of retained text to the current page.
	pageURL string
}

// NewMessageManager creates an assembler seeded with the run-initialization
// marker as the first rolling history item.
func NewMessageManager(logger *zap.Logger, task, instructions string, maxHistoryItems int, redactor *Redactor) *MessageManager {
	m := &MessageManager{
		logger:          logger.Named("messages"),
		redactor:        redactor,
		instructions:    instructions,
		task:            task,
		maxHistoryItems: maxHistoryItems,
	}
	m.historyItems = []string{fmt.Sprintf("Task started: %s", redactor.Redact(task, ""))}
	return m
}

// SetPageURL updates the URL used to scope domain-bound secrets.
func (m *MessageManager) SetPageURL(url string) { m.pageURL = url }

// AddHistoryItem appends one line to the rolling step history. The text is
// redacted before it is retained.
func (m *MessageManager) AddHistoryItem(text string) {
	m.historyItems = append(m.historyItems, m.redactor.Redact(text, m.pageURL))
}

// SetObservation installs the current-observation entry, replacing any
// previous one. The text is redacted before being held.
func (m *MessageManager) SetObservation(text string) {
	m.observation = &schemas.Message{
		Role:    schemas.RoleUser,
		Content: m.redactor.Redact(text, m.pageURL),
		Kind:    schemas.KindObservation,
	}
}

// RemoveObservation drops the current-observation entry. Removing an entry
// that was never added is a no-op.
func (m *MessageManager) RemoveObservation() {
	m.observation = nil
}

// rollingHistory returns the capped history block: first item, one omission
// marker when items were dropped, then the most recent cap−1 items.
func (m *MessageManager) rollingHistory() []string {
	limit := m.maxHistoryItems
	if limit < 2 || len(m.historyItems) <= limit {
		return m.historyItems
	}
	omitted := len(m.historyItems) - limit
	block := make([]string, 0, limit+1)
	block = append(block, m.historyItems[0])
	block = append(block, fmt.Sprintf("<%d previous steps omitted>", omitted))
	block = append(block, m.historyItems[len(m.historyItems)-(limit-1):]...)
	return block
}

// Messages produces the ordered conversation for one model call. The
// instructions entry is always first and never dropped.
func (m *MessageManager) Messages() []schemas.Message {
	msgs := []schemas.Message{
		{Role: schemas.RoleSystem, Content: m.instructions, Kind: schemas.KindInstructions},
		{Role: schemas.RoleUser, Content: fmt.Sprintf("Your task: %s", m.redactor.Redact(m.task, m.pageURL))},
		{Role: schemas.RoleUser, Content: "Step history:\n" + strings.Join(m.rollingHistory(), "\n")},
	}
	if m.observation != nil {
		msgs = append(msgs, *m.observation)
	}
	return msgs
}

// HistoryLen reports how many rolling history items are currently retained
// (before capping).
func (m *MessageManager) HistoryLen() int { return len(m.historyItems) }
