package metadb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of a project's append-only conversation
// transcript. Sources carry the provenance paths of assistant answers.
type ChatMessage struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   []string  `json:"sources"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendMessage stores one transcript entry. Sources may be nil for user
// messages.
func (d *DB) AppendMessage(ctx context.Context, projectID, role, content string, sources []string) (*ChatMessage, error) {
	if sources == nil {
		sources = []string{}
	}
	encoded, err := json.Marshal(sources)
	if err != nil {
		return nil, fmt.Errorf("encode sources: %w", err)
	}

	m := &ChatMessage{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Role:      role,
		Content:   content,
		Sources:   sources,
		CreatedAt: time.Now().UTC(),
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, project_id, role, content, sources, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.Role, m.Content, string(encoded), m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// History returns a project's transcript ordered by creation time.
func (d *DB) History(ctx context.Context, projectID string) ([]*ChatMessage, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, project_id, role, content, sources, created_at
		 FROM chat_messages WHERE project_id = ? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var messages []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		var encoded string
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Role, &m.Content, &encoded, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(encoded), &m.Sources); err != nil {
			return nil, fmt.Errorf("decode sources: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
